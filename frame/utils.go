package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

var ErrNotRaw = errors.New("frame: not a bgr24 frame")

func checkRaw(f *Frame) error {
	if f == nil || f.Format != FormatBGR24 {
		return ErrNotRaw
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height*3 {
		return fmt.Errorf("frame: %dx%d needs %d bytes, got %d", f.Width, f.Height, f.Width*f.Height*3, len(f.Data))
	}
	return nil
}

// Black returns a raw frame of the given size with every pixel zero.
func Black(width, height int) *Frame {
	return &Frame{
		Data:   make([]byte, width*height*3),
		Format: FormatBGR24,
		Width:  width,
		Height: height,
	}
}

func DecodeRaw(f *Frame) (*image.RGBA, error) {
	if err := checkRaw(f); err != nil {
		return nil, err
	}
	width, height := f.Width, f.Height
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			img.SetRGBA(x, y, color.RGBA{
				R: f.Data[i+2], // BGR -> RGB
				G: f.Data[i+1],
				B: f.Data[i],
				A: 255,
			})
		}
	}
	return img, nil
}

// ToYCbCr converts a raw frame to 4:2:0 YCbCr, the layout the video
// encoders consume. Chroma is taken from the top-left pixel of each 2x2 block.
func ToYCbCr(f *Frame) (*image.YCbCr, error) {
	if err := checkRaw(f); err != nil {
		return nil, err
	}
	width, height := f.Width, f.Height
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			yy, cb, cr := color.RGBToYCbCr(f.Data[i+2], f.Data[i+1], f.Data[i])
			img.Y[img.YOffset(x, y)] = yy
			if x%2 == 0 && y%2 == 0 {
				ci := img.COffset(x, y)
				img.Cb[ci] = cb
				img.Cr[ci] = cr
			}
		}
	}
	return img, nil
}

// FromImage converts any image to a raw BGR24 frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := Black(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Data[i] = byte(bl >> 8)
			f.Data[i+1] = byte(g >> 8)
			f.Data[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return f
}
