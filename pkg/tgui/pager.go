package tgui

import "fmt"

// Page is one page of a list. Index is 0-based.
type Page[T any] struct {
	Items []T
	Index int
	Size  int
	Total int
}

// Paginate returns page index of items, clamped into range so a stale
// button never shows an empty page.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	p := Page[T]{Index: index, Size: size, Total: len(items)}
	if last := p.Pages() - 1; p.Index > last {
		p.Index = last
	}
	if p.Index < 0 {
		p.Index = 0
	}
	from := p.Index * size
	to := min(from+size, len(items))
	p.Items = items[from:to]
	return p
}

func (p Page[T]) Pages() int {
	if p.Total == 0 {
		return 1
	}
	return (p.Total + p.Size - 1) / p.Size
}

func (p Page[T]) HasPrev() bool { return p.Index > 0 }
func (p Page[T]) HasNext() bool { return p.Index < p.Pages()-1 }

// Label reads like "Page 2/3 · 9-16 of 20".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	from := p.Index*p.Size + 1
	return fmt.Sprintf("Page %d/%d · %d-%d of %d", p.Index+1, p.Pages(), from, from+len(p.Items)-1, p.Total)
}
