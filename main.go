package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

const (
	fallbackWidth  = 1920
	fallbackHeight = 1080
)

func main() {
	// SDL must be driven from the main thread
	runtime.LockOSThread()

	ctx, cancel := signalContext()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithField("function", "main").WithError(err).Error("hevc-frame failed")
		os.Exit(1)
	}
}

// tuneMemory keeps the heap small on the ARM64 boards the player runs on.
func tuneMemory() {
	if runtime.GOARCH != "arm64" {
		return
	}
	debug.SetGCPercent(25)
	debug.SetMemoryLimit(256 << 20)
	logrus.WithFields(logrus.Fields{
		"function":  "tuneMemory",
		"gogc":      25,
		"mem_limit": "256MiB",
	}).Info("Configured ARM64 memory management")
}

// videoDrivers returns the SDL video drivers to try, in order.
func videoDrivers() []string {
	if env := os.Getenv("SDL_VIDEODRIVER"); env != "" {
		return []string{env, "fbcon", "software", "dummy"}
	}
	if runtime.GOOS == "darwin" {
		return []string{"cocoa", "software", "dummy"}
	}
	return []string{
		"kmsdrm", // Kernel Mode Setting + DRM, the Pi GPU path
		"drm",
		"fbcon", // framebuffer console for headless boards
		"wayland",
		"x11",
		"software",
		"dummy",
	}
}

// initializeSDL2 initializes the SDL video subsystem, falling back through
// the platform's drivers.
func initializeSDL2() error {
	entry := logrus.WithFields(logrus.Fields{
		"function": "initializeSDL2",
		"os":       runtime.GOOS,
		"display":  os.Getenv("DISPLAY"),
	})
	if model, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		entry = entry.WithField("device", string(model))
	}
	_, fbErr := os.Stat("/dev/fb0")
	_, driErr := os.Stat("/dev/dri")
	entry.WithFields(logrus.Fields{
		"fb0": fbErr == nil,
		"dri": driErr == nil,
	}).Debug("System information")

	for _, driver := range videoDrivers() {
		os.Setenv("SDL_VIDEODRIVER", driver)
		if err := trySDLInitialization(driver); err != nil {
			entry.WithField("driver", driver).WithError(err).Warn("SDL2 initialization failed")
			continue
		}
		entry.WithField("driver", driver).Info("SDL2 initialized")
		return nil
	}
	return fmt.Errorf("all SDL2 video drivers failed")
}

func trySDLInitialization(driver string) error {
	sdl.Quit()

	sdl.SetHint(sdl.HINT_VIDEODRIVER, driver)
	switch driver {
	case "cocoa":
		sdl.SetHint("SDL_VIDEO_COCOA_SCALE_FACTOR", "1")
	case "kmsdrm":
		sdl.SetHint("SDL_KMSDRM_REQUIRE_DRM_MASTER", "1")
		sdl.SetHint("SDL_VIDEO_KMSDRM_DEVINDEX", "0")
		// Prevent async flips that cause VC4 errors
		sdl.SetHint("SDL_RENDER_VSYNC", "1")
	case "fbcon":
		sdl.SetHint("SDL_FBDEV", "/dev/fb0")
	case "wayland":
		sdl.SetHint("SDL_VIDEO_WAYLAND_WMCLASS", "hevc-frame")
	case "software":
		sdl.SetHint("SDL_FRAMEBUFFER_ACCELERATION", "0")
	}

	sdl.SetHint(sdl.HINT_RENDER_BATCHING, "1")
	switch driver {
	case "kmsdrm", "drm":
		sdl.SetHint(sdl.HINT_RENDER_DRIVER, "opengles2")
	case "cocoa":
		sdl.SetHint(sdl.HINT_RENDER_DRIVER, "opengl")
	default:
		sdl.SetHint(sdl.HINT_RENDER_DRIVER, "software")
	}
	sdl.SetHint(sdl.HINT_VIDEO_MINIMIZE_ON_FOCUS_LOSS, "0")
	sdl.SetHint(sdl.HINT_RENDER_SCALE_QUALITY, "1")

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return fmt.Errorf("SDL_INIT_VIDEO failed: %v", err)
	}
	if _, err := sdl.GetCurrentVideoDriver(); err != nil {
		return fmt.Errorf("failed to get video driver: %v", err)
	}
	return nil
}

// getDisplayDimensions returns the screen dimensions or fallback values
func getDisplayDimensions() (int32, int32) {
	mode, err := sdl.GetCurrentDisplayMode(0)
	if err != nil {
		logrus.WithField("function", "getDisplayDimensions").WithError(err).
			Warn("Failed to get display mode, using fallback")
		return fallbackWidth, fallbackHeight
	}
	return mode.W, mode.H
}

// createWindow opens a borderless fullscreen window, the desktop counterpart
// of an immersive landscape activity.
func createWindow(title string, width, height int32) (*sdl.Window, error) {
	flags := uint32(sdl.WINDOW_SHOWN | sdl.WINDOW_FULLSCREEN_DESKTOP)
	return sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, width, height, flags)
}

// createRenderer prefers an accelerated renderer and falls back to software.
func createRenderer(window *sdl.Window) (*sdl.Renderer, error) {
	driver, err := sdl.GetCurrentVideoDriver()
	if err != nil {
		driver = "unknown"
	}
	entry := logrus.WithFields(logrus.Fields{"function": "createRenderer", "driver": driver})

	if driver == "kmsdrm" || driver == "drm" || driver == "cocoa" {
		flags := uint32(sdl.RENDERER_ACCELERATED)
		// kmsdrm on the Pi rejects vsync'd async flips
		if driver != "kmsdrm" {
			flags |= sdl.RENDERER_PRESENTVSYNC
		}
		renderer, err := sdl.CreateRenderer(window, -1, flags)
		if err == nil {
			entry.Info("Hardware accelerated renderer created")
			return renderer, nil
		}
		entry.WithError(err).Warn("Hardware acceleration failed, trying software")
	}

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE)
	if err != nil {
		return nil, err
	}
	entry.Info("Software renderer created")
	return renderer, nil
}
