package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"studio/pkg/genclient"
)

func main() {
	var (
		baseURL string
		key     string
		prompt  string
		model   string
		aspect  string
		size    string
		images  stringList
		history bool
	)
	flag.StringVar(&baseURL, "server", envOr("STUDIO_SERVER", "http://localhost:8080"), "API server base URL")
	flag.StringVar(&key, "key", os.Getenv("STUDIO_ACCESS_KEY"), "access key (fallbacks to STUDIO_ACCESS_KEY)")
	flag.StringVar(&prompt, "prompt", "", "generation prompt")
	flag.StringVar(&model, "model", "", "model variant (default server-side)")
	flag.StringVar(&aspect, "aspect", "", "aspect ratio, e.g. 16:9")
	flag.StringVar(&size, "size", "", "image size: 1K, 2K or 4K")
	flag.Var(&images, "image", "reference image file (repeatable)")
	flag.BoolVar(&history, "history", false, "list recent generations and exit")
	flag.Parse()

	client, err := genclient.New(genclient.Options{BaseURL: baseURL, AccessKey: key})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if history {
		items, err := client.History(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "history: %v\n", err)
			os.Exit(1)
		}
		for _, item := range items {
			fmt.Printf("%s  %s  %q  %s\n", item.ID,
				time.UnixMilli(item.CreatedAt).Format(time.RFC3339), item.Prompt, item.URL)
		}
		return
	}

	if prompt == "" {
		fmt.Fprintln(os.Stderr, "-prompt is required")
		os.Exit(1)
	}

	req := genclient.SubmitRequest{
		Prompt:      prompt,
		Model:       model,
		AspectRatio: aspect,
		ImageSize:   size,
	}
	for _, path := range images {
		dataURL, err := encodeImage(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read image %s: %v\n", path, err)
			os.Exit(1)
		}
		req.Images = append(req.Images, dataURL)
	}

	taskID, err := client.Submit(ctx, req, func(msg string) {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "task %s submitted, polling\n", taskID)

	lastProgress := -1
	url, err := client.Poll(ctx, taskID, func(p int) {
		if p != lastProgress {
			fmt.Fprintf(os.Stderr, "progress %d%%\n", p)
			lastProgress = p
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "poll: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(url)
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
