package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/dr-api/internal/config"
	"github.com/Brownie44l1/dr-api/internal/dataset"
	"github.com/Brownie44l1/dr-api/internal/model"
	"github.com/Brownie44l1/dr-api/internal/preprocess"
	"github.com/Brownie44l1/dr-api/internal/retry"
	"github.com/Brownie44l1/dr-api/internal/train"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	tc := cfg.Training

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Model.DownloadRetries
	client := &http.Client{Timeout: 10 * time.Minute}
	if err := model.EnsureFile(ctx, client, cfg.Model.BackbonePath, cfg.Model.BackboneURL, retryCfg); err != nil {
		log.Fatalf("Failed to fetch backbone: %v", err)
	}

	if err := model.InitRuntime(cfg.Model.OnnxRuntimeLib); err != nil {
		log.Fatalf("Failed to initialize ONNX Runtime: %v", err)
	}
	defer model.DestroyRuntime()

	prep := preprocess.Preprocessor{
		Size:          tc.ImageSize,
		Layout:        preprocess.Layout(tc.Layout),
		Normalization: preprocess.Normalization(tc.Normalization),
	}
	if err := prep.Validate(); err != nil {
		log.Fatalf("Invalid preprocessing settings: %v", err)
	}

	trainDir, err := dataset.ScanDirectory(tc.TrainDir)
	if err != nil {
		log.Fatalf("Failed to scan training data: %v", err)
	}
	valDir, err := dataset.ScanDirectory(tc.ValDir)
	if err != nil {
		log.Fatalf("Failed to scan validation data: %v", err)
	}
	if err := valDir.Align(trainDir.Classes); err != nil {
		log.Fatalf("Validation classes do not match training classes: %v", err)
	}
	log.Printf("Found %d training images and %d validation images in %d classes",
		len(trainDir.Samples), len(valDir.Samples), len(trainDir.Classes))

	meta, err := model.InspectBackbone(cfg.Model.BackbonePath, tc.ImageSize, prep.Layout)
	if err != nil {
		log.Fatalf("Failed to inspect backbone: %v", err)
	}
	meta.Normalization = prep.Normalization
	meta.ClassDirs = trainDir.Classes
	meta.Classes = make([]string, len(trainDir.Classes))
	for i, dir := range trainDir.Classes {
		meta.Classes[i] = model.LabelFor(dir)
	}
	if err := meta.Validate(); err != nil {
		log.Fatalf("Invalid model metadata: %v", err)
	}

	backbone, err := model.NewBackbone(cfg.Model.BackbonePath, meta)
	if err != nil {
		log.Fatalf("Failed to load backbone: %v", err)
	}
	defer backbone.Close()

	trainFeed := dataset.NewFeed(trainDir, dataset.FeedOptions{
		BatchSize: tc.BatchSize,
		Shuffle:   true,
		Seed:      tc.Seed,
		Augmenter: dataset.NewAugmenter(tc.Rotation, tc.Zoom, tc.Flip, tc.Seed),
		Prep:      prep,
	})
	valFeed := dataset.NewFeed(valDir, dataset.FeedOptions{
		BatchSize: tc.BatchSize,
		Prep:      prep,
	})

	head := model.NewHead(len(meta.Classes), meta.FeatureSize, tc.Dropout, rand.New(rand.NewSource(tc.Seed)))
	trainer := train.NewTrainer(backbone, train.Options{
		Epochs:       tc.Epochs,
		LearningRate: tc.LearningRate,
		Patience:     tc.Patience,
		Seed:         tc.Seed,
	})

	best, history, err := trainer.Fit(ctx, head, trainFeed, valFeed)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	log.Printf("Trained %d epochs (best epoch %d, stopped early: %v)", len(history.Epochs), history.BestEpoch, history.Stopped)

	artifact := &model.Artifact{Metadata: meta, Head: best}
	if err := artifact.Save(cfg.Model.Path); err != nil {
		log.Fatalf("Failed to save model: %v", err)
	}
	log.Printf("Model saved to %s", cfg.Model.Path)
}
