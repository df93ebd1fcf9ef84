package server

import (
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

func decodeExtractFramesForm(r *http.Request, f *ExtractFramesForm) error {
	var err error
	if f.StartSec, err = formFloat(r, "start_sec"); err != nil {
		return err
	}
	if f.EndSec, err = formFloat(r, "end_sec"); err != nil {
		return err
	}
	n, err := formInt(r, "n_fps")
	if err != nil {
		return err
	}
	if n != nil {
		f.NFPS = *n
	}
	f.OutputDir = strings.TrimSpace(r.FormValue("output_dir"))
	if f.OutputDir == "" {
		f.OutputDir = "frames"
	}
	f.Crop, err = formCrop(r)
	return err
}

func decodeGIFForm(r *http.Request, f *GIFForm) error {
	var err error
	if f.StartSec, err = formFloat(r, "start_sec"); err != nil {
		return err
	}
	if f.EndSec, err = formFloat(r, "end_sec"); err != nil {
		return err
	}
	if f.ColorDepth, err = formInt(r, "color_depth"); err != nil {
		return err
	}
	if f.Scale, err = formFloat(r, "scale"); err != nil {
		return err
	}
	f.Crop, err = formCrop(r)
	return err
}

func decodeSingleFrameForm(r *http.Request, f *SingleFrameForm) error {
	var err error
	if f.Timestamp, err = formFloat(r, "timestamp"); err != nil {
		return err
	}
	f.Crop, err = formCrop(r)
	return err
}

// formCrop returns nil unless all four crop fields are present.
func formCrop(r *http.Request) (*CropForm, error) {
	var vals [4]int
	for i, name := range []string{"crop_x", "crop_y", "crop_w", "crop_h"} {
		v, err := formInt(r, name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		vals[i] = *v
	}
	return &CropForm{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}

func formFloat(r *http.Request, name string) (*float64, error) {
	s := strings.TrimSpace(r.FormValue(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s: invalid number %q", name, s)
	}
	return &v, nil
}

func formInt(r *http.Request, name string) (*int, error) {
	s := strings.TrimSpace(r.FormValue(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid integer %q", name, s)
	}
	return &v, nil
}

// attachment builds a Content-Disposition header for name.
func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
