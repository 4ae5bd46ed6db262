//go:build linux && !nodevices

package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/ebitengine/purego"
)

// V4L2 capability flags (linux/videodev2.h).
const (
	v4l2CapVideoCapture       = 0x00000001
	v4l2CapVideoCaptureMplane = 0x00001000
	v4l2CapDeviceCaps         = 0x80000000

	// _IOR('V', 0, struct v4l2_capability)
	vidiocQueryCap = 0x80685600
)

// v4l2Capability mirrors struct v4l2_capability.
type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

func (c *v4l2Capability) canCapture() bool {
	caps := c.Capabilities
	if caps&v4l2CapDeviceCaps != 0 {
		caps = c.DeviceCaps
	}
	return caps&(v4l2CapVideoCapture|v4l2CapVideoCaptureMplane) != 0
}

var (
	// libc state
	libcOnce    sync.Once
	libcHandle  uintptr
	libcInitErr error
	libcLoaded  bool

	libcIoctl func(fd int32, request uintptr, arg *v4l2Capability) int32
)

func initLibc() {
	libcOnce.Do(func() {
		libcHandle, libcInitErr = dlopenFirst("libc.so.6", "libc.so")
		if libcInitErr != nil {
			return
		}
		purego.RegisterLibFunc(&libcIoctl, libcHandle, "ioctl")
		libcLoaded = true
	})
}

// IsV4L2Available returns true if V4L2 devices can be queried.
func IsV4L2Available() bool {
	initLibc()
	return libcLoaded
}

// LinuxDeviceProvider enumerates V4L2 nodes under /dev.
type LinuxDeviceProvider struct {
	devDir string
	mu     sync.Mutex
}

// NewLinuxDeviceProvider creates a V4L2 device provider.
func NewLinuxDeviceProvider() *LinuxDeviceProvider {
	initLibc()
	return &LinuxDeviceProvider{devDir: "/dev"}
}

// ListVideoDevices returns the V4L2 nodes, capture-capable ones first.
func (p *LinuxDeviceProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	if !libcLoaded {
		return nil, fmt.Errorf("V4L2 not available: %v", libcInitErr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(p.devDir, "video*"))
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool { return videoNodeIndex(paths[i]) < videoNodeIndex(paths[j]) })

	devices := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		caps, err := queryCap(path)
		if err != nil {
			continue
		}
		kind := DeviceKindVideoOutput
		if caps.canCapture() {
			kind = DeviceKindVideoInput
		}
		devices = append(devices, DeviceInfo{
			DeviceID:    path,
			Label:       goStringFromBytes(caps.Card[:]),
			Driver:      goStringFromBytes(caps.Driver[:]),
			BusInfo:     goStringFromBytes(caps.BusInfo[:]),
			Kind:        kind,
			InputFormat: "v4l2",
		})
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Kind == DeviceKindVideoInput && devices[j].Kind != DeviceKindVideoInput
	})
	return devices, nil
}

func queryCap(path string) (*v4l2Capability, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var caps v4l2Capability
	if rc := libcIoctl(int32(f.Fd()), vidiocQueryCap, &caps); rc < 0 {
		return nil, fmt.Errorf("VIDIOC_QUERYCAP %s failed", path)
	}
	return &caps, nil
}

// videoNodeIndex orders /dev/video10 after /dev/video9.
func videoNodeIndex(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}

func init() {
	initLibc()
	if libcLoaded {
		RegisterDeviceProvider(NewLinuxDeviceProvider())
	}
}
