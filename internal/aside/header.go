package aside

// ScrollThreshold is the scroll offset past which the header counts as
// scrolled.
const ScrollThreshold = 50

// HeaderState is the header's scroll-driven visibility.
type HeaderState struct {
	ScrollY     int
	Scrolled    bool
	ScrollingUp bool
	Hidden      bool
}

// NextHeader folds one scroll position into the header state. While a
// panel is open the scroll position is ignored and the header stays as it
// was.
func NextHeader(prev HeaderState, scrollY int, panel Panel) HeaderState {
	if panel != PanelClosed {
		return prev
	}
	next := HeaderState{
		ScrollY:     scrollY,
		Scrolled:    scrollY > ScrollThreshold,
		ScrollingUp: scrollY < prev.ScrollY,
	}
	next.Hidden = next.Scrolled && !next.ScrollingUp
	return next
}

// FoldHeader applies a stream of scroll positions starting from the top.
func FoldHeader(positions []int, panel Panel) HeaderState {
	var st HeaderState
	for _, y := range positions {
		st = NextHeader(st, y, panel)
	}
	return st
}
