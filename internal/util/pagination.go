package util

const defaultPageSize = 20

// Paginate clamps page/size and returns the offset and limit for a query.
func Paginate(page, size int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = defaultPageSize
	}
	return (page - 1) * size, size
}
