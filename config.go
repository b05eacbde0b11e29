package rtvideo

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration value is out of range
var ErrInvalidConfig = errors.New("invalid config")

// Config is the flat configuration struct consumed by the processing core.
// It is normally loaded from a YAML file with LoadConfig, any field not
// present in the file keeps its default value.
type Config struct {
	// ConfidenceThreshold is the minimum combined detection score for a
	// candidate box to be kept
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	// NMSThreshold is the maximum IoU allowed between two kept boxes of the
	// same class
	NMSThreshold float32 `yaml:"nms_threshold"`
	// IOUThreshold is the minimum IoU for a detection to be associated with
	// an existing track
	IOUThreshold float32 `yaml:"iou_threshold"`
	// MinHits is the number of successful associations required before a
	// track is confirmed
	MinHits int `yaml:"min_hits"`
	// MaxDisappeared is the number of frames a track may go without an
	// association before it is removed
	MaxDisappeared int `yaml:"max_disappeared"`
	// MaxDetections caps the number of detections returned per frame after NMS
	MaxDetections int `yaml:"max_detections"`
	// MaxTracks caps the number of active tracks, zero for no limit
	MaxTracks int `yaml:"max_tracks"`

	// InputWidth and InputHeight are the detector input tensor dimensions
	InputWidth  int `yaml:"input_width"`
	InputHeight int `yaml:"input_height"`
	// TensorLayout declares the detector output layout, one of
	// auto|xywh_obj_cls|xywh_cls|xywh_cls_transposed
	TensorLayout string `yaml:"tensor_layout"`
	// ClassCount is the number of classes the detector was trained on
	ClassCount int `yaml:"class_count"`
	// LabelsFile is an optional text file with one class name per line
	LabelsFile string `yaml:"labels_file"`

	// BufferPoolSlots is the ceiling of CPU slots in the buffer pool, the
	// accelerator side gets half of this
	BufferPoolSlots int `yaml:"buffer_pool_slots"`
	// BufferSlotBytes is the capacity of a preallocated slot
	BufferSlotBytes int `yaml:"buffer_slot_bytes"`
	// QueueCapacity is the capacity of each inter-stage queue
	QueueCapacity int `yaml:"queue_capacity"`
	// EnginePoolSize is the number of inference engines run in parallel
	EnginePoolSize int `yaml:"engine_pool_size"`

	// TargetFPS and MaxLatencyMs are the performance targets checked by the
	// monitor
	TargetFPS    float64 `yaml:"target_fps"`
	MaxLatencyMs float64 `yaml:"max_latency_ms"`

	// Association selects the track association strategy, greedy|optimal
	Association string `yaml:"association"`
	// MotionModel selects the track motion model, velocity|kalman
	MotionModel string `yaml:"motion_model"`
	// ClassAware restricts association to detections of the track's class
	ClassAware bool `yaml:"class_aware"`
	// TrailLength is the number of past track centers kept per track
	TrailLength int `yaml:"trail_length"`

	// CPUAffinity lists the CPU cores pipeline stage threads are pinned to
	CPUAffinity []int `yaml:"cpu_affinity"`
	// MetricsAddr is the listen address for the Prometheus metrics endpoint,
	// empty disables it
	MetricsAddr string `yaml:"metrics_addr"`
	// LogLevel is one of debug|info|warn|error
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with the default values for a YOLO model
// trained on the COCO dataset featuring:
// - Input tensor: 640x640
// - Object Classes: 80
// - Confidence Threshold: 0.5
// - NMS Threshold: 0.4
// - Association IoU Threshold: 0.3
// - Min Hits: 3
// - Max Disappeared: 30 frames
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.4,
		IOUThreshold:        0.3,
		MinHits:             3,
		MaxDisappeared:      30,
		MaxDetections:       100,
		MaxTracks:           50,
		InputWidth:          640,
		InputHeight:         640,
		TensorLayout:        "auto",
		ClassCount:          80,
		BufferPoolSlots:     16,
		BufferSlotBytes:     640 * 640 * 3 * 4,
		QueueCapacity:       8,
		EnginePoolSize:      1,
		TargetFPS:           50,
		MaxLatencyMs:        20,
		Association:         "greedy",
		MotionModel:         "velocity",
		TrailLength:         30,
		LogLevel:            "info",
	}
}

// LoadConfig reads the YAML file at path over the top of DefaultConfig and
// validates the result
func LoadConfig(path string) (Config, error) {

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)

	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks all configuration values are within range
func (c Config) Validate() error {

	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1,
		"confidence_threshold %v not in [0,1]", c.ConfidenceThreshold)
	check(c.NMSThreshold >= 0 && c.NMSThreshold <= 1,
		"nms_threshold %v not in [0,1]", c.NMSThreshold)
	check(c.IOUThreshold >= 0 && c.IOUThreshold <= 1,
		"iou_threshold %v not in [0,1]", c.IOUThreshold)
	check(c.MinHits >= 1, "min_hits %d must be at least 1", c.MinHits)
	check(c.MaxDisappeared >= 0, "max_disappeared %d is negative", c.MaxDisappeared)
	check(c.MaxDetections >= 1, "max_detections %d must be at least 1", c.MaxDetections)
	check(c.MaxTracks >= 0, "max_tracks %d is negative", c.MaxTracks)
	check(c.InputWidth > 0 && c.InputHeight > 0,
		"input size %dx%d must be positive", c.InputWidth, c.InputHeight)
	check(c.ClassCount >= 0, "class_count %d is negative", c.ClassCount)
	check(c.BufferPoolSlots >= 1, "buffer_pool_slots %d must be at least 1", c.BufferPoolSlots)
	check(c.BufferSlotBytes > 0, "buffer_slot_bytes %d must be positive", c.BufferSlotBytes)
	check(c.QueueCapacity >= 1, "queue_capacity %d must be at least 1", c.QueueCapacity)
	check(c.EnginePoolSize >= 1, "engine_pool_size %d must be at least 1", c.EnginePoolSize)
	check(c.TrailLength >= 0, "trail_length %d is negative", c.TrailLength)

	switch strings.ToLower(c.TensorLayout) {
	case "", "auto", "xywh_obj_cls", "xywh_cls", "xywh_cls_transposed":
	default:
		check(false, "unknown tensor_layout %q", c.TensorLayout)
	}

	switch strings.ToLower(c.Association) {
	case "", "greedy", "optimal":
	default:
		check(false, "unknown association %q", c.Association)
	}

	switch strings.ToLower(c.MotionModel) {
	case "", "velocity", "kalman":
	default:
		check(false, "unknown motion_model %q", c.MotionModel)
	}

	return errors.Join(errs...)
}
