package cache

// ViewKind names a logical query family.
type ViewKind string

const (
	// KindCohortMessages is the message stream of one cohort; the key id
	// is the cohort id.
	KindCohortMessages ViewKind = "cohort_messages"
	// KindConversations is a viewer's conversation list; the key id is
	// the viewer's user id.
	KindConversations ViewKind = "conversations"
)

// Key identifies one cached view.
type Key struct {
	Kind ViewKind
	ID   string
}

func (k Key) String() string { return string(k.Kind) + ":" + k.ID }

// Page is one window of a paginated result set.
type Page[T any] struct {
	Items   []T
	HasMore bool
	Total   int
}

// View is an ordered sequence of pages. Page 0 holds the most recent
// window. Views are treated as immutable values: updates build a new
// view, copying only the pages they touch.
type View[T any] struct {
	Pages []Page[T]
}

// Flatten returns all items across pages in page order.
func (v View[T]) Flatten() []T {
	var out []T
	for _, p := range v.Pages {
		out = append(out, p.Items...)
	}
	return out
}

// ClonePage returns a copy of page i with its item slice duplicated so
// the original view is never aliased by a mutation.
func (v View[T]) ClonePage(i int) Page[T] {
	p := v.Pages[i]
	items := make([]T, len(p.Items))
	copy(items, p.Items)
	p.Items = items
	return p
}

// WithPage returns a copy of v with page i replaced.
func (v View[T]) WithPage(i int, p Page[T]) View[T] {
	pages := make([]Page[T], len(v.Pages))
	copy(pages, v.Pages)
	pages[i] = p
	return View[T]{Pages: pages}
}
