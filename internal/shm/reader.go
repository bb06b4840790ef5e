// Package shm reads frames published by the camera daemon into a POSIX
// shared-memory ring buffer.
package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#define RING_BUFFER_SIZE 8
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

// Frame slot written by the camera daemon
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int width;
    int height;
    int format;
    size_t data_size;
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];  // sem_t (32 bytes on Linux)
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

// RDWR is needed for sem_wait
static SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }

    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL,
        sizeof(SharedFrameBuffer),
        PROT_READ | PROT_WRITE,
        MAP_SHARED,
        fd,
        0
    );

    close(fd);

    if (shm == MAP_FAILED) {
        return NULL;
    }

    return shm;
}

// Returns 0 on success, negative errno on failure (including -ETIMEDOUT)
static int wait_new_frame(SharedFrameBuffer* shm, int timeout_ms) {
    if (shm == NULL) {
        return -EINVAL;
    }

    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }

    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }

    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

static void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

static uint32_t get_write_index(SharedFrameBuffer* shm) {
    return __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
}

static uint32_t get_frame_interval_ms(SharedFrameBuffer* shm) {
    return shm->frame_interval_ms;
}

static int read_frame(SharedFrameBuffer* shm, uint32_t index, Frame* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &shm->frames[index], sizeof(Frame));
    return 0;
}
*/
import "C"
import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
)

const (
	// Format constants shared with the camera daemon
	FormatJPEG = 0
	FormatNV12 = 1
	FormatGray = 2

	RingBufferSize = 8
	MaxFrameSize   = 1920 * 1080 * 3 / 2

	// DefaultName is the segment the camera daemon creates.
	DefaultName = "/zone_sentry_frame"
)

// ErrTimeout is returned by WaitNewFrame when no frame arrived in time.
var ErrTimeout = errors.New("timeout waiting for frame")

// RawFrame is a frame slot copied out of shared memory.
type RawFrame struct {
	Data      []byte
	Format    int
	Width     int
	Height    int
	Timestamp time.Time
	FrameNum  uint64
}

// Reader reads frames from the camera daemon's ring buffer
type Reader struct {
	shm     *C.SharedFrameBuffer
	shmName string
	frame   C.Frame
}

// NewReader maps the shared memory segment. It does not wait for the
// segment to appear: a missing daemon is a startup failure.
func NewReader(shmName string) (*Reader, error) {
	if shmName == "" {
		shmName = DefaultName
	}

	cName := C.CString(shmName)
	defer C.free(unsafe.Pointer(cName))

	shm := C.open_shm(cName)
	if shm == nil {
		return nil, fmt.Errorf("failed to open shared memory %s", shmName)
	}

	logger.Info("Reader", "Opened shared memory: %s", shmName)

	return &Reader{
		shm:     shm,
		shmName: shmName,
	}, nil
}

// Close unmaps the shared memory
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

// FrameInterval returns the producer's advertised frame interval.
func (r *Reader) FrameInterval() time.Duration {
	if r.shm == nil {
		return 0
	}
	return time.Duration(C.get_frame_interval_ms(r.shm)) * time.Millisecond
}

// ReadLatest copies the most recently written frame, or returns nil when the
// daemon has not written one yet.
func (r *Reader) ReadLatest() (*RawFrame, error) {
	if r.shm == nil {
		return nil, fmt.Errorf("shared memory not open")
	}

	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return nil, nil
	}

	index := (writeIndex - 1) % RingBufferSize
	if C.read_frame(r.shm, C.uint32_t(index), &r.frame) != 0 {
		return nil, fmt.Errorf("failed to read frame at index %d", index)
	}

	dataSize := int(r.frame.data_size)
	if dataSize <= 0 || dataSize > MaxFrameSize {
		return nil, fmt.Errorf("frame %d has invalid size %d", uint64(r.frame.frame_number), dataSize)
	}

	data := make([]byte, dataSize)
	cData := (*[MaxFrameSize]byte)(unsafe.Pointer(&r.frame.data[0]))[:dataSize:dataSize]
	copy(data, cData)

	return &RawFrame{
		Data:      data,
		Format:    int(r.frame.format),
		Width:     int(r.frame.width),
		Height:    int(r.frame.height),
		Timestamp: time.Unix(int64(r.frame.timestamp.tv_sec), int64(r.frame.timestamp.tv_nsec)),
		FrameNum:  uint64(r.frame.frame_number),
	}, nil
}

// WaitNewFrame blocks on the daemon's new-frame semaphore.
func (r *Reader) WaitNewFrame(timeout time.Duration) error {
	if r.shm == nil {
		return fmt.Errorf("shared memory not open")
	}

	timeoutMs := int(timeout.Milliseconds())
	if timeoutMs <= 0 {
		timeoutMs = 1
	}
	result := int(C.wait_new_frame(r.shm, C.int(timeoutMs)))
	if result == 0 {
		return nil
	}

	switch errNum := -result; errNum {
	case 110: // ETIMEDOUT
		return ErrTimeout
	case 4: // EINTR
		return fmt.Errorf("interrupted (errno %d)", errNum)
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", errNum)
	}
}
