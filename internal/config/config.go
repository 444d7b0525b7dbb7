package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "config/config.toml"

// Duration reads TOML strings such as "24h" or "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	Port          string   `toml:"port"`
	SecretKey     string   `toml:"secret_key"`
	UploadDir     string   `toml:"upload_dir"`
	MaxUploadMB   int64    `toml:"max_upload_mb"`
	SessionTTL    Duration `toml:"session_ttl"`
	SecureCookies bool     `toml:"secure_cookies"` // set behind TLS
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // sqlite or postgres
	DSN    string `toml:"dsn"`
}

type ModelConfig struct {
	Path            string `toml:"path"`
	URL             string `toml:"url"`
	BackbonePath    string `toml:"backbone_path"`
	BackboneURL     string `toml:"backbone_url"`
	OnnxRuntimeLib  string `toml:"onnxruntime_lib"`
	DownloadRetries int    `toml:"download_retries"`
}

type SplitConfig struct {
	Labels    string `toml:"labels"`
	Images    string `toml:"images"`
	Output    string `toml:"output"`
	Extension string `toml:"extension"`
}

type DatasetConfig struct {
	IDColumn    string      `toml:"id_column"`
	GradeColumn string      `toml:"grade_column"`
	Train       SplitConfig `toml:"train"`
	Test        SplitConfig `toml:"test"`
}

type TrainingConfig struct {
	TrainDir      string  `toml:"train_dir"`
	ValDir        string  `toml:"val_dir"`
	ImageSize     int     `toml:"image_size"`
	Layout        string  `toml:"layout"`
	Normalization string  `toml:"normalization"`
	BatchSize     int     `toml:"batch_size"`
	Epochs        int     `toml:"epochs"`
	LearningRate  float64 `toml:"learning_rate"`
	Dropout       float64 `toml:"dropout"`
	Patience      int     `toml:"patience"`
	Rotation      float64 `toml:"rotation"`
	Zoom          float64 `toml:"zoom"`
	Flip          bool    `toml:"flip"`
	Seed          int64   `toml:"seed"`
}

type EvaluationConfig struct {
	TestDir     string `toml:"test_dir"`
	HeatmapPath string `toml:"heatmap_path"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Model      ModelConfig      `toml:"model"`
	Dataset    DatasetConfig    `toml:"dataset"`
	Training   TrainingConfig   `toml:"training"`
	Evaluation EvaluationConfig `toml:"evaluation"`
}

// Default mirrors the constants the pipeline was first built with.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			UploadDir:   "static/uploads",
			MaxUploadMB: 16,
			SessionTTL:  Duration{24 * time.Hour},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "users.db",
		},
		Model: ModelConfig{
			Path:            "models/dr_final_model.json",
			BackbonePath:    "models/xception_backbone.onnx",
			DownloadRetries: 3,
		},
		Dataset: DatasetConfig{
			IDColumn:    "Image name",
			GradeColumn: "Retinopathy grade",
			Train: SplitConfig{
				Labels:    "archive/Disease_Grading/Groundtruths/IDRiD_Disease Grading_Training Labels.csv",
				Images:    "archive/Disease_Grading/Original_Images/Training Set",
				Output:    "dataset/train",
				Extension: ".jpg",
			},
			Test: SplitConfig{
				Labels:    "archive/Disease_Grading/Groundtruths/IDRiD_Disease Grading_Testing Labels.csv",
				Images:    "archive/Disease_Grading/Original_Images/Testing Set",
				Output:    "dataset/test",
				Extension: ".jpg",
			},
		},
		Training: TrainingConfig{
			TrainDir:      "dataset/train",
			ValDir:        "dataset/test",
			ImageSize:     229,
			Layout:        "NHWC",
			Normalization: "rescale",
			BatchSize:     16,
			Epochs:        30,
			LearningRate:  0.000005,
			Dropout:       0.4,
			Patience:      5,
			Rotation:      15,
			Zoom:          0.15,
			Flip:          true,
			Seed:          42,
		},
		Evaluation: EvaluationConfig{
			TestDir:     "dataset/test",
			HeatmapPath: "reports/confusion_matrix.png",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error; the defaults are used as they are.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("No config file at %s, using defaults", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by CONFIG_PATH, or DefaultPath.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"PORT", &c.Server.Port},
		{"DR_SECRET_KEY", &c.Server.SecretKey},
		{"DR_UPLOAD_DIR", &c.Server.UploadDir},
		{"DR_DATABASE_DRIVER", &c.Database.Driver},
		{"DR_DATABASE_DSN", &c.Database.DSN},
		{"DR_MODEL_PATH", &c.Model.Path},
		{"DR_MODEL_URL", &c.Model.URL},
		{"DR_BACKBONE_PATH", &c.Model.BackbonePath},
		{"DR_BACKBONE_URL", &c.Model.BackboneURL},
		{"ONNXRUNTIME_LIB", &c.Model.OnnxRuntimeLib},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}

	if v := os.Getenv("DR_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Server.MaxUploadMB = n
		}
	}
	if v := os.Getenv("DR_SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.SecureCookies = b
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive")
	}
	if c.Server.SessionTTL.Duration <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.Training.ImageSize <= 0 || c.Training.BatchSize <= 0 {
		return fmt.Errorf("training image_size and batch_size must be positive")
	}
	if c.Training.Dropout < 0 || c.Training.Dropout >= 1 {
		return fmt.Errorf("training dropout must be in [0,1)")
	}
	if c.Training.Patience <= 0 {
		return fmt.Errorf("training patience must be positive")
	}
	return nil
}
