package tile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapIsPeriodic(t *testing.T) {
	for _, n := range []int{1, 2, 7, 15} {
		for v := -40; v <= 40; v++ {
			got := Wrap(v, n)
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, n)
			for k := -3; k <= 3; k++ {
				assert.Equal(t, got, Wrap(v+k*n, n), "v=%d n=%d k=%d", v, n, k)
			}
		}
	}
}

func TestWrapFlooredModulo(t *testing.T) {
	assert.Equal(t, 14, Wrap(-1, 15))
	assert.Equal(t, 0, Wrap(-15, 15))
	assert.Equal(t, 1, Wrap(16, 15))
}

func TestImageLifecycle(t *testing.T) {
	img := NewPending()
	assert.False(t, img.Ready())
	assert.Equal(t, Pending, img.State())

	img.SetSize(256, 256)
	assert.True(t, img.Ready())

	img.Complete([]byte("png"), 256, 256)
	assert.Equal(t, Loaded, img.State())
	assert.Equal(t, []byte("png"), img.Data())
	<-img.Done()

	img.Fail(errors.New("late"))
	assert.Equal(t, Loaded, img.State())
	assert.NoError(t, img.Err())
}

func TestImageFail(t *testing.T) {
	img := NewPending()
	img.Fail(errors.New("boom"))
	assert.Equal(t, Failed, img.State())
	assert.EqualError(t, img.Err(), "boom")
	assert.False(t, img.Ready())
	<-img.Done()
}

func TestFlags(t *testing.T) {
	assert.False(t, (FlagWidth | FlagHeight).Finished())
	assert.True(t, FlagAllBits.Finished())
	assert.True(t, FlagError.Finished())
	assert.True(t, (FlagWidth | FlagAllBits).Has(FlagWidth))
}
