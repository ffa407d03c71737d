package desktop

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamviewer/internal/types"
)

type fakeDriver struct {
	calls []string
}

func (f *fakeDriver) Move(x, y int) { f.calls = append(f.calls, fmt.Sprintf("move %d,%d", x, y)) }
func (f *fakeDriver) Toggle(button, dir string) error {
	f.calls = append(f.calls, "mouse "+button+" "+dir)
	return nil
}
func (f *fakeDriver) Scroll(dx, dy int) { f.calls = append(f.calls, fmt.Sprintf("scroll %d,%d", dx, dy)) }
func (f *fakeDriver) KeyToggle(key, dir string) error {
	f.calls = append(f.calls, "key "+key+" "+dir)
	return nil
}
func (f *fakeDriver) KeyTap(key string) error {
	f.calls = append(f.calls, "tap "+key)
	return nil
}
func (f *fakeDriver) Type(text string) { f.calls = append(f.calls, "type "+text) }

func dispatch(t *testing.T, evs ...types.Outbound) []string {
	t.Helper()
	drv := &fakeDriver{}
	sink := NewRobotSink(drv, image.Rect(1920, 0, 3840, 1080), nil)
	for _, ev := range evs {
		require.NoError(t, sink.Dispatch(context.Background(), ev))
	}
	return drv.calls
}

func TestClickIsOffsetByDisplayOrigin(t *testing.T) {
	calls := dispatch(t, types.InputClick{X: 10.4, Y: 20.6, Button: "middle", ClickCount: 2})
	assert.Equal(t, []string{
		"move 1930,21",
		"mouse center down", "mouse center up",
		"mouse center down", "mouse center up",
	}, calls)
}

func TestWheelConvertsPixelsToNotches(t *testing.T) {
	calls := dispatch(t,
		types.InputWheel{X: 0, Y: 0, DeltaY: 120},
		types.InputWheel{X: 0, Y: 0, DeltaX: -5},
	)
	assert.Equal(t, []string{"move 1920,0", "scroll 0,-3", "move 1920,0", "scroll 1,0"}, calls)
}

func TestKeys(t *testing.T) {
	calls := dispatch(t,
		types.InputKeyDown{Key: "a"},
		types.InputKeyDown{Key: " "},
		types.InputKeyDown{Key: "Shift"},
		types.InputKeyUp{Key: "Shift"},
		types.InputKeyDown{Key: "Enter"},
		types.InputKeyUp{Key: "Enter"},
		types.InputKeyDown{Key: "C", Modifiers: types.Modifiers{Ctrl: true}},
		types.InputKeyDown{Key: "Dead"},
	)
	assert.Equal(t, []string{"key shift down", "key shift up", "tap enter", "tap c"}, calls)
}

func TestTypeTextPressesEnterForLineBreaks(t *testing.T) {
	calls := dispatch(t, types.InputType{Text: "ab\r\ncd\n"})
	assert.Equal(t, []string{"type ab", "tap enter", "type cd", "tap enter"}, calls)
}

func TestUnsupportedInput(t *testing.T) {
	sink := NewRobotSink(&fakeDriver{}, image.Rectangle{}, nil)
	assert.Error(t, sink.Dispatch(context.Background(), types.TakeControl{}))
}

func TestEncodeByMode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	out, err := encode(img, types.ModeCDP, 80)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.MimeType)
	assert.Equal(t, 4, out.Width)
	_, err = jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)

	out, err = encode(img, types.ModeScreenshot, 80)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MimeType)
	_, err = png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
}
