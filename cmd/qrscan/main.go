// Command qrscan finds a camera, records images from it and prints the text of
// the QR codes it decodes.
//
// Examples:
//
//	# List available devices and quit.
//	qrscan -listdevices
//
//	# Scan one code with the first device, using default settings.
//	qrscan
//
//	# Keep scanning with ffmpeg as recorder, with explicit device, every
//	# 200ms, and mirror the frames to /run/qrscan/preview.jpg.
//	qrscan -recorder ffmpeg -device /dev/video2 -interval 200ms -retry -preview /run/qrscan
//
//	# Read settings from a file, flags take precedence.
//	qrscan -config ~/.config/qrscan.toml -verbose
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	qrscan "github.com/qrscan/qrscan-go"
	"github.com/qrscan/qrscan-go/image"
	"github.com/qrscan/qrscan-go/image/ffmpeg"
	"github.com/qrscan/qrscan-go/image/gstreamer"
	"github.com/qrscan/qrscan-go/image/imagesnap"
	"github.com/qrscan/qrscan-go/media"
	"github.com/qrscan/qrscan-go/zxing"
)

var (
	listDevices bool
	configPath  string
	opts        settings
)

func init() {
	if runtime.GOOS == "darwin" {
		opts.Recorder = "imagesnap"
	} else {
		opts.Recorder = "gstreamer"
	}

	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists devices and exits")
	flag.StringVar(&configPath, "config", "", "if set, read settings from this TOML file, flags take precedence")
	flag.StringVar(&opts.Recorder, "recorder", opts.Recorder, "type of recorder to use, imagesnap on macOS; gstreamer or ffmpeg on linux")
	flag.StringVar(&opts.Device, "device", "", "device ID to use, by default, the first device returned when listing devices")
	flag.DurationVar(&opts.Interval, "interval", 250*time.Millisecond, "how often to take an image and decode it")
	flag.StringVar(&opts.Preview, "preview", "", "if set, directory to write the current frame to as "+image.PreviewFile)
	flag.BoolVar(&opts.Retry, "retry", false, "keep scanning after each decoded code")
	flag.DurationVar(&opts.RetryDelay, "retrydelay", qrscan.DefaultRetryDelay, "pause after a decoded code before scanning again")
	flag.DurationVar(&opts.Timeout, "timeout", 0, "if set, give up a scan after this long")
	flag.BoolVar(&opts.TryHarder, "tryharder", false, "spend more time per image looking for a code")
	flag.BoolVar(&opts.Verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: qrscan [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
	}
	if configPath != "" {
		c, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		explicit := map[string]bool{}
		flag.Visit(func(f *flag.Flag) {
			explicit[f.Name] = true
		})
		c.apply(&opts, explicit)
	}
	os.Exit(main0())
}

func newBackend() (image.Backend, error) {
	switch opts.Recorder {
	case "imagesnap":
		return imagesnap.Backend{Verbose: opts.Verbose}, nil
	case "gstreamer":
		return gstreamer.Backend{Verbose: opts.Verbose}, nil
	case "ffmpeg":
		return ffmpeg.Backend{Verbose: opts.Verbose}, nil
	}
	return nil, fmt.Errorf("unknown recorder type %q", opts.Recorder)
}

func main0() int {
	backend, err := newBackend()
	if err != nil {
		log.Printf("%v", err)
		return 2
	}

	if listDevices {
		devs, err := backend.ListDevices()
		if err != nil {
			log.Printf("listing devices: %v", err)
			return 1
		}
		for _, dev := range devs {
			fmt.Println(dev)
		}
		return 0
	}

	engine := zxing.NewEngine(backend, &zxing.EngineOpts{
		Interval:  opts.Interval,
		TryHarder: opts.TryHarder,
		Verbose:   opts.Verbose,
	})
	scanner := qrscan.New(opts.Preview, engine, &qrscan.ScannerOpts{
		Retry:      opts.Retry,
		RetryDelay: opts.RetryDelay,
		Timeout:    opts.Timeout,
		Platform:   &media.Host{Verbose: opts.Verbose},
		Verbose:    opts.Verbose,
	})
	if opts.Preview != "" && !scanner.Preview().Attached() {
		log.Printf("preview directory %s does not exist, not writing frames", opts.Preview)
	}

	// Receives the final outcome: the first result or failure, or the first
	// failure when retrying.
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	scanner.AddDeviceObserver(func(devices []image.Device, err error) {
		if err != nil {
			log.Printf("finding devices: %v", err)
			if !errors.Is(err, qrscan.ErrPermissionDenied) && !errors.Is(err, qrscan.ErrPlatformUnsupported) {
				finish(err)
			}
			return
		}
		dev, err := pickDevice(devices, opts.Device)
		if err != nil {
			finish(err)
			return
		}
		if opts.Verbose {
			log.Printf("scanning with %s", dev)
		}
		scanner.SetTargetSource(dev)
	}).AddResultObserver(func(text string, err error) {
		if err != nil {
			log.Printf("%v", err)
			finish(err)
			return
		}
		fmt.Println(text)
		if !opts.Retry {
			finish(nil)
		}
	})
	scanner.SearchMediaSource()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	status := 0
	select {
	case <-signals:
		status = 1
	case err := <-done:
		if err != nil {
			status = 1
		}
	}
	scanner.Stop()
	scanner.Wait()
	return status
}

var errNoDevices = errors.New("no devices found")

// pickDevice returns the device with the given id, or the first device if id
// is empty.
func pickDevice(devices []image.Device, id string) (image.Device, error) {
	if len(devices) == 0 {
		return image.Device{}, errNoDevices
	}
	if id == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return image.Device{}, fmt.Errorf("device %q not found", id)
}
