package domain

// Department groups operators inside an institution; cases tagged with a
// department are visible only to its members and admins.
type Department struct {
	ID            int64
	InstitutionID int64
	Name          string
	IsActive      bool
}
