package model

// LaneStatus is the state of a lane session's check-in transaction.
type LaneStatus string

const (
	StatusIdle               LaneStatus = "IDLE"
	StatusActive             LaneStatus = "ACTIVE"
	StatusAwaitingAssignment LaneStatus = "AWAITING_ASSIGNMENT"
	StatusAwaitingPayment    LaneStatus = "AWAITING_PAYMENT"
	StatusAwaitingSignature  LaneStatus = "AWAITING_SIGNATURE"
	StatusCompleted          LaneStatus = "COMPLETED"
	StatusCancelled          LaneStatus = "CANCELLED"
)

// NonTerminalStatuses lists every status in which a session still owns its lane.
var NonTerminalStatuses = []LaneStatus{
	StatusIdle, StatusActive, StatusAwaitingAssignment, StatusAwaitingPayment, StatusAwaitingSignature,
}

// Terminal reports whether no further transitions are possible.
func (s LaneStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Mode distinguishes a fresh check-in from extending an existing stay.
type Mode string

const (
	ModeCheckin Mode = "CHECKIN"
	ModeRenewal Mode = "RENEWAL"
)

// Actor identifies which side of the counter issued a protocol call.
type Actor string

const (
	ActorCustomer Actor = "CUSTOMER"
	ActorEmployee Actor = "EMPLOYEE"
)

// Valid reports whether a is a known actor.
func (a Actor) Valid() bool { return a == ActorCustomer || a == ActorEmployee }

// RentalType is a rental tier. Rooms map to a tier by room number, not by
// their stored type column.
type RentalType string

const (
	RentalLocker   RentalType = "LOCKER"
	RentalStandard RentalType = "STANDARD"
	RentalDouble   RentalType = "DOUBLE"
	RentalSpecial  RentalType = "SPECIAL"
)

// RentalTypes lists every tier in display order.
var RentalTypes = []RentalType{RentalLocker, RentalStandard, RentalDouble, RentalSpecial}

// Valid reports whether r is a known tier.
func (r RentalType) Valid() bool {
	for _, t := range RentalTypes {
		if r == t {
			return true
		}
	}
	return false
}

// ResourceType tells rooms and lockers apart.
type ResourceType string

const (
	ResourceRoom   ResourceType = "room"
	ResourceLocker ResourceType = "locker"
)

// ResourceTypeFor returns the kind of physical resource a tier is served from.
func ResourceTypeFor(r RentalType) ResourceType {
	if r == RentalLocker {
		return ResourceLocker
	}
	return ResourceRoom
}

// ResourceStatus is the housekeeping status of a room or locker.
type ResourceStatus string

const (
	ResourceClean    ResourceStatus = "CLEAN"
	ResourceOccupied ResourceStatus = "OCCUPIED"
	ResourceDirty    ResourceStatus = "DIRTY"
)

// WaitlistStatus is the lifecycle state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistActive    WaitlistStatus = "ACTIVE"
	WaitlistOffered   WaitlistStatus = "OFFERED"
	WaitlistFulfilled WaitlistStatus = "FULFILLED"
	WaitlistExpired   WaitlistStatus = "EXPIRED"
)

// PaymentStatus is the state of a payment intent.
type PaymentStatus string

const (
	PaymentDue       PaymentStatus = "DUE"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// BlockType tags why a stay block was created.
type BlockType string

const (
	BlockInitial BlockType = "INITIAL"
	BlockRenewal BlockType = "RENEWAL"
	BlockUpgrade BlockType = "UPGRADE"
)
