//go:build whispercpp

package engine

/*
#cgo CFLAGS: -I${SRCDIR}/../../third_party/whisper.cpp -I${SRCDIR}/../../third_party/whisper.cpp/include -I${SRCDIR}/../../third_party/whisper.cpp/ggml/include
#cgo CXXFLAGS: -std=c++17 -I${SRCDIR}/../../third_party/whisper.cpp -I${SRCDIR}/../../third_party/whisper.cpp/include -I${SRCDIR}/../../third_party/whisper.cpp/ggml/include
#cgo LDFLAGS: -L${SRCDIR}/../../third_party/whisper.cpp/build -L${SRCDIR}/../../third_party/whisper.cpp/build/src -L${SRCDIR}/../../third_party/whisper.cpp/build/ggml/src -Wl,-rpath,${SRCDIR}/../../third_party/whisper.cpp/build/src -Wl,-rpath,${SRCDIR}/../../third_party/whisper.cpp/build/ggml/src -lwhisper -lggml -lggml-base -lstdc++ -lm

#include "stdlib.h"
#include "include/whisper.h"
#include "ggml.h"
#include "ggml-backend.h"

static int whisperGoGPUDeviceCount(void) {
	ggml_backend_load_all();
	int count = 0;
	for (size_t i = 0; i < ggml_backend_dev_count(); i++) {
		if (ggml_backend_dev_type(ggml_backend_dev_get(i)) == GGML_BACKEND_DEVICE_TYPE_GPU) {
			count++;
		}
	}
	return count;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"
)

// segmentTimeUnit is the resolution of whisper_full_get_segment_t0/t1.
const segmentTimeUnit = 10 * time.Millisecond

var (
	gpuProbeOnce sync.Once
	gpuDevices   int
)

func NativeAvailable() bool { return true }

// GPUDeviceCount reports the number of GPU devices registered with ggml.
func GPUDeviceCount() int {
	gpuProbeOnce.Do(func() {
		gpuDevices = int(C.whisperGoGPUDeviceCount())
	})
	return gpuDevices
}

type NativeEngine struct {
	mu   sync.Mutex
	ctx  *C.struct_whisper_context
	info Info

	threads int
}

func NewNativeEngine(opts NativeOptions) (Engine, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("whisper: model path required")
	}
	available := 0
	if opts.GPU != GPUOff {
		available = GPUDeviceCount()
	}
	useGPU, err := resolveGPU(opts.GPU, opts.GPUDevice, available)
	if err != nil {
		return nil, err
	}

	cPath := C.CString(opts.ModelPath)
	defer C.free(unsafe.Pointer(cPath))
	cParams := C.whisper_context_default_params()
	cParams.use_gpu = C.bool(useGPU)
	cParams.gpu_device = C.int(opts.GPUDevice)
	if opts.FlashAttention != nil {
		cParams.flash_attn = C.bool(*opts.FlashAttention)
	}

	ctx := C.whisper_init_from_file_with_params(cPath, cParams)
	if ctx == nil {
		return nil, fmt.Errorf("whisper: failed to initialise context for %s", opts.ModelPath)
	}

	threads := 0
	if opts.Threads != nil {
		threads = *opts.Threads
	}

	return &NativeEngine{
		ctx:     ctx,
		threads: threads,
		info: Info{
			Backend:      "whisper.cpp",
			Model:        C.GoString(C.whisper_model_type_readable(ctx)),
			ModelPath:    opts.ModelPath,
			Multilingual: C.whisper_is_multilingual(ctx) != 0,
			UsingGPU:     useGPU,
			GPUDevice:    opts.GPUDevice,
			Threads:      threads,
		},
	}, nil
}

func (e *NativeEngine) Info() Info { return e.info }

func (e *NativeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		C.whisper_free(e.ctx)
		e.ctx = nil
	}
	return nil
}

// Transcribe runs whisper_full on a fresh state. The context is checked before
// inference starts; once running the call completes.
func (e *NativeEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if len(samples) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return Transcript{}, ErrClosed
	}

	state := C.whisper_init_state(e.ctx)
	if state == nil {
		return Transcript{}, errors.New("whisper: failed to initialise state")
	}
	defer C.whisper_free_state(state)

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	params.print_progress = C.bool(false)
	params.print_realtime = C.bool(false)
	params.print_timestamps = C.bool(false)
	params.print_special = C.bool(false)
	params.translate = C.bool(opts.Translate)
	params.no_context = C.bool(true)
	params.single_segment = C.bool(false)
	if e.threads > 0 {
		params.n_threads = C.int(e.threads)
	}

	lang := normaliseLanguage(opts.Language, "")
	if lang != "auto" && !e.info.Multilingual {
		lang = "en"
	}
	cLang := C.CString(lang)
	defer C.free(unsafe.Pointer(cLang))
	params.language = cLang
	params.detect_language = C.bool(false)

	cSamples := (*C.float)(unsafe.Pointer(&samples[0]))
	if ret := C.whisper_full_with_state(e.ctx, state, params, cSamples, C.int(len(samples))); ret != 0 {
		return Transcript{}, fmt.Errorf("whisper: inference failed with code %d", int(ret))
	}

	return collectTranscript(state), nil
}

func collectTranscript(state *C.struct_whisper_state) Transcript {
	var out Transcript
	if id := int(C.whisper_full_lang_id_from_state(state)); id >= 0 {
		if str := C.whisper_lang_str(C.int(id)); str != nil {
			out.Language = C.GoString(str)
		}
	}

	count := int(C.whisper_full_n_segments_from_state(state))
	out.Segments = make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		text := strings.TrimSpace(C.GoString(C.whisper_full_get_segment_text_from_state(state, C.int(i))))
		t0 := int64(C.whisper_full_get_segment_t0_from_state(state, C.int(i)))
		t1 := int64(C.whisper_full_get_segment_t1_from_state(state, C.int(i)))

		var (
			sumProb float64
			tokens  int
		)
		tokenCount := int(C.whisper_full_n_tokens_from_state(state, C.int(i)))
		for j := 0; j < tokenCount; j++ {
			tokenData := C.whisper_full_get_token_data_from_state(state, C.int(i), C.int(j))
			if tokenData.p > 0 {
				sumProb += float64(tokenData.p)
				tokens++
			}
		}
		confidence := float32(0)
		if tokens > 0 {
			confidence = float32(sumProb / float64(tokens))
		}

		out.Segments = append(out.Segments, Segment{
			Start:      time.Duration(t0) * segmentTimeUnit,
			End:        time.Duration(t1) * segmentTimeUnit,
			Text:       text,
			Confidence: confidence,
		})
	}
	return out
}
