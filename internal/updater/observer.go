package updater

// Observer presents a running procedure. The engine calls it synchronously
// from the goroutine running Execute; implementations bound to another
// goroutine must hand the calls over themselves.
type Observer interface {
	SetTitle(title string)
	SetLabel(label string)
	Close()
}

type noopObserver struct{}

func (noopObserver) SetTitle(string) {}
func (noopObserver) SetLabel(string) {}
func (noopObserver) Close()          {}
