package tile

import "sync"

type State int

const (
	Pending State = iota
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Image is a tile image that may still be loading. Width and Height report 0
// until the dimensions are known. Done is closed once the image is either
// fully loaded or has failed.
type Image struct {
	mu     sync.RWMutex
	data   []byte
	width  int
	height int
	state  State
	err    error
	done   chan struct{}
}

// NewPending returns an image whose content will arrive later.
func NewPending() *Image {
	return &Image{done: make(chan struct{})}
}

// NewLoaded returns a fully loaded image.
func NewLoaded(data []byte, width, height int) *Image {
	img := &Image{
		data:   data,
		width:  width,
		height: height,
		state:  Loaded,
		done:   make(chan struct{}),
	}
	close(img.done)
	return img
}

func (im *Image) Width() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.width
}

func (im *Image) Height() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.height
}

func (im *Image) Data() []byte {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.data
}

func (im *Image) State() State {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.state
}

func (im *Image) Err() error {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.err
}

// Ready reports whether the image has a known, nonzero width.
func (im *Image) Ready() bool {
	return im.Width() > 0
}

func (im *Image) Done() <-chan struct{} {
	return im.done
}

// SetSize records the dimensions once the header has been decoded.
func (im *Image) SetSize(width, height int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.state != Pending {
		return
	}
	im.width = width
	im.height = height
}

// Complete marks the image loaded. Calling Complete or Fail twice is a no-op.
func (im *Image) Complete(data []byte, width, height int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.state != Pending {
		return
	}
	im.data = data
	im.width = width
	im.height = height
	im.state = Loaded
	close(im.done)
}

func (im *Image) Fail(err error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.state != Pending {
		return
	}
	im.err = err
	im.state = Failed
	close(im.done)
}
