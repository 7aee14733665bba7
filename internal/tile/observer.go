package tile

// Flags describe how much of an image is known when an Observer is called.
type Flags uint8

const (
	FlagWidth Flags = 1 << iota
	FlagHeight
	FlagAllBits
	FlagError
)

func (f Flags) Has(o Flags) bool {
	return f&o != 0
}

// Finished reports whether the load has ended, successfully or not.
func (f Flags) Finished() bool {
	return f.Has(FlagAllBits) || f.Has(FlagError)
}

// Update is delivered to an Observer as a load progresses. Image is nil for
// loads that write straight to a tile store instead of memory.
type Update struct {
	Key   Key
	Image *Image
	Flags Flags
}

// Observer receives load progress. Returning false tells the loader that no
// further updates are wanted.
type Observer interface {
	ImageUpdate(u Update) bool
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(u Update) bool

func (f ObserverFunc) ImageUpdate(u Update) bool {
	return f(u)
}

// Decoder learns the dimensions of an encoded tile image.
type Decoder interface {
	DecodeSize(data []byte) (width, height int, err error)
}
