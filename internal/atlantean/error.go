package atlantean

type _error string

func (e _error) Error() string {
	return string(e)
}

const (
	// Missing reports that a requested resource or record does not
	// exist.
	Missing _error = "missing"

	// NothingToDo reports an empty plan.
	NothingToDo _error = "nothing to do"
)
