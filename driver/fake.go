package driver

import "sync"

// Fake is an in-memory Driver used by tests and by example wiring. It
// lets callers script the sequence of clipboard states the watcher will
// observe on successive ticks.
type Fake struct {
	mu sync.Mutex

	text    string
	hasText bool
	textErr error

	image    Image
	hasImage bool
	imageErr error
}

// NewFake returns an empty Fake driver; GetText/GetImage report Empty
// until SetText/SetImage (or PushText/PushImage) populate a value.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) GetText() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		err := f.textErr
		f.textErr = nil
		return "", err
	}
	if !f.hasText {
		return "", newErr("get_text", Empty)
	}
	return f.text, nil
}

func (f *Fake) SetText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = s
	f.hasText = true
	return nil
}

func (f *Fake) GetImage() (Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageErr != nil {
		err := f.imageErr
		f.imageErr = nil
		return Image{}, err
	}
	if !f.hasImage {
		return Image{}, newErr("get_image", Empty)
	}
	return f.image, nil
}

func (f *Fake) SetImage(img Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = img
	f.hasImage = true
	return nil
}

// PushText simulates an external program changing the clipboard text,
// independent of SetText's role as the "write back" path.
func (f *Fake) PushText(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = s
	f.hasText = true
}

// PushImage simulates an external program changing the clipboard image.
func (f *Fake) PushImage(img Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = img
	f.hasImage = true
}

// FailNextText makes the next GetText call return err instead of the
// scripted text, exercising the watcher's transient-error backoff path.
func (f *Fake) FailNextText(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textErr = err
}

// FailNextImage makes the next GetImage call return err.
func (f *Fake) FailNextImage(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageErr = err
}

var _ Driver = (*Fake)(nil)
