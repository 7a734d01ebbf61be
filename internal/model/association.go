package model

// Entity names a CRM object type taking part in an association.
type Entity string

const (
	EntityCompany       Entity = "Company"
	EntityContact       Entity = "Contact"
	EntityDeal          Entity = "Deal"
	EntityCommunication Entity = "Communication"
	EntitySocialLink    Entity = "SocialLink"
)

// AssociationStatus is the resolution outcome of one foreign key.
type AssociationStatus string

const (
	StatusResolved         AssociationStatus = "Resolved"
	StatusNoForeignKey     AssociationStatus = "NoForeignKey"
	StatusUnresolvedTarget AssociationStatus = "UnresolvedTarget"
)

// AssociationKey is the natural key of an association record.
type AssociationKey struct {
	SourceEntity Entity `json:"source_entity"`
	SourceID     int64  `json:"source_id"`
	TargetEntity Entity `json:"target_entity"`
}

// AssociationRecord is an explicit, auditable link between two entities.
type AssociationRecord struct {
	SourceEntity      Entity            `json:"source_entity"`
	SourceID          int64             `json:"source_id"`
	TargetEntity      Entity            `json:"target_entity"`
	TargetID          *int64            `json:"target_id,omitempty"`
	Status            AssociationStatus `json:"status"`
	TargetDisplayName string            `json:"target_display_name,omitempty"`
	TargetContext     string            `json:"target_context,omitempty"`
}

// Key returns the record's natural key.
func (r AssociationRecord) Key() AssociationKey {
	return AssociationKey{SourceEntity: r.SourceEntity, SourceID: r.SourceID, TargetEntity: r.TargetEntity}
}
