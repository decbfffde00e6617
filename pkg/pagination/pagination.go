package pagination

import "fmt"

const (
	// DefaultPageSize is the standard page size when a size is not provided.
	DefaultPageSize = 10000
	// MaxPageSize caps how many rows one page may request.
	MaxPageSize = 50000
)

// Page addresses one window of an offset-paginated query. Iteration is driven purely by
// position: callers stop when a page comes back short, never by a total-row cap.
type Page struct {
	Offset int
	Limit  int
}

// NormalizeSize enforces the configured default and maximum page sizes.
func NormalizeSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// First returns the page at offset zero.
func First(size int) Page {
	return Page{Offset: 0, Limit: NormalizeSize(size)}
}

// Next returns the page that follows p.
func (p Page) Next() Page {
	return Page{Offset: p.Offset + p.Limit, Limit: p.Limit}
}

// Last reports whether a page that returned got rows was the final one.
func (p Page) Last(got int) bool {
	return got < p.Limit
}

func (p Page) String() string {
	return fmt.Sprintf("offset=%d limit=%d", p.Offset, p.Limit)
}

// Each walks pages starting at First(size) until fetch returns a short page or an error.
// fetch reports how many rows it received for the page.
func Each(size int, fetch func(Page) (int, error)) error {
	page := First(size)
	for {
		got, err := fetch(page)
		if err != nil {
			return fmt.Errorf("fetch page %s: %w", page, err)
		}
		if page.Last(got) {
			return nil
		}
		page = page.Next()
	}
}
