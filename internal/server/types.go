// Package server provides the HTTP surface for the framekit API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/maauso/framekit-api/internal/media"

// CropForm is the optional crop rectangle shared by all task forms.
// It is only applied when all four fields are present.
type CropForm struct {
	X int `json:"crop_x"`
	Y int `json:"crop_y"`
	W int `json:"crop_w"`
	H int `json:"crop_h"`
}

// Request converts the form into a media crop request.
func (c *CropForm) Request() *media.CropRequest {
	if c == nil {
		return nil
	}
	return &media.CropRequest{X: c.X, Y: c.Y, W: c.W, H: c.H}
}

// ExtractFramesForm is the multipart form for POST /api/tasks/extract-frames.
type ExtractFramesForm struct {
	// StartSec defaults to 0.
	StartSec *float64 `json:"start_sec,omitempty" validate:"omitempty,gte=0"`
	// EndSec defaults to the end of the video.
	EndSec *float64 `json:"end_sec,omitempty"`
	// NFPS is the number of frames to keep per second of video.
	NFPS int `json:"n_fps" validate:"required,gt=0,lte=240"`
	// OutputDir names the frames directory inside the job directory.
	OutputDir string    `json:"output_dir" validate:"max=128"`
	Crop      *CropForm `json:"crop,omitempty"`
}

// GIFForm is the multipart form for POST /api/tasks/mp4-to-gif.
type GIFForm struct {
	StartSec   *float64  `json:"start_sec,omitempty" validate:"omitempty,gte=0"`
	EndSec     *float64  `json:"end_sec,omitempty"`
	ColorDepth *int      `json:"color_depth,omitempty" validate:"omitempty,gt=0"`
	Scale      *float64  `json:"scale,omitempty" validate:"omitempty,gt=0"`
	Crop       *CropForm `json:"crop,omitempty"`
}

// SingleFrameForm is the multipart form for POST /api/tasks/extract-single-frame.
type SingleFrameForm struct {
	Timestamp *float64  `json:"timestamp" validate:"required,gte=0"`
	Crop      *CropForm `json:"crop,omitempty"`
}

// TaskResponse is the HTTP response after a task was accepted.
type TaskResponse struct {
	// JobID identifies the job within its module.
	JobID string `json:"job_id"`
	// ModuleID is the operation type; poll /api/jobs/{module_id}/{job_id}.
	ModuleID string `json:"module_id"`
	// Status is the initial job status.
	Status        string `json:"status"`
	InputFilename string `json:"input_filename"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
