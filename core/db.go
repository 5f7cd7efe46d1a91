package core

// DBOrdering is a storage-agnostic ORDER BY clause element. Repositories
// whitelist Field before interpolating; the API layer builds these from
// the `ordering` query param.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
