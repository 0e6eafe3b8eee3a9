package model

// Physical room numbers are mapped to tiers through this fixed table. The
// stored room type cannot be used: deluxe rooms are stored as "DELUXE" but
// are sold as DOUBLE.
var (
	specialRooms = map[int]bool{201: true, 232: true, 256: true}
	doubleRooms  = map[int]bool{
		216: true, 218: true, 225: true, 226: true, 229: true,
		230: true, 234: true, 236: true, 239: true, 240: true,
	}
)

// TierForRoomNumber returns the rental tier of room number n.
func TierForRoomNumber(n int) RentalType {
	switch {
	case specialRooms[n]:
		return RentalSpecial
	case doubleRooms[n]:
		return RentalDouble
	default:
		return RentalStandard
	}
}

// RoomNumbersForTier lists the table entries for a room tier. STANDARD is
// the fallback tier and has no explicit list, so it returns nil.
func RoomNumbersForTier(t RentalType) []int {
	var src map[int]bool
	switch t {
	case RentalSpecial:
		src = specialRooms
	case RentalDouble:
		src = doubleRooms
	default:
		return nil
	}
	out := make([]int, 0, len(src))
	for n := range src {
		out = append(out, n)
	}
	return out
}

type tierPair struct{ from, to RentalType }

// upgradeFees holds the flat upgrade price in cents per tier pair.
var upgradeFees = map[tierPair]int{
	{RentalLocker, RentalStandard}:  3000,
	{RentalLocker, RentalDouble}:    5000,
	{RentalLocker, RentalSpecial}:   8000,
	{RentalStandard, RentalDouble}:  2000,
	{RentalStandard, RentalSpecial}: 5000,
	{RentalDouble, RentalSpecial}:   3000,
}

// UpgradeFee returns the fee in cents for moving from one tier to another.
// ok is false when no upgrade path exists.
func UpgradeFee(from, to RentalType) (int, bool) {
	fee, ok := upgradeFees[tierPair{from, to}]
	return fee, ok
}
