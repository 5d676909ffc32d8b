package frame

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/draw"
	"github.com/Carmen-Shannon/oxy-splat/engine/preprocess"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/sorter"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
)

// Stage is one step of a frame.
type Stage int

const (
	StageClearCounters Stage = iota
	StagePreprocess
	StagePropagateCount
	StageSort
	StageDraw
)

func (s Stage) String() string {
	switch s {
	case StageClearCounters:
		return "clear-counters"
	case StagePreprocess:
		return "preprocess"
	case StagePropagateCount:
		return "propagate-count"
	case StageSort:
		return "sort"
	case StageDraw:
		return "draw"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Stages returns every stage in the order a frame runs them.
func Stages() []Stage {
	return []Stage{StageClearCounters, StagePreprocess, StagePropagateCount, StageSort, StageDraw}
}

// Orchestrator owns the GPU resources of one point cloud and records a whole frame into a
// single command stream: clear the counters, preprocess, copy the Valid Count into the draw
// arguments and the sort info, sort, draw. The count never comes back to the CPU.
type Orchestrator struct {
	cfg      Config
	observer StageObserver

	set        *splat.BufferSet
	sort       *sorter.Sorter
	preprocess *preprocess.Stage
	draw       *draw.Stage
}

// New validates the configuration and builds every stage for a point cloud.
//
// Parameters:
//   - r: the renderer
//   - cloud: the point cloud
//   - options: functional options
//
// Returns:
//   - *Orchestrator: the orchestrator
//   - error: ErrKeyWidthMismatch, ErrCapacityMismatch, a sorter configuration error, or an
//     error from GPU object creation
func New(r renderer.Renderer, cloud *splat.PointCloud, options ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{cfg: DefaultConfig()}
	for _, opt := range options {
		opt(o)
	}

	count := uint32(cloud.Len())
	if err := o.cfg.Validate(count); err != nil {
		return nil, err
	}
	o.cfg = o.cfg.resolve(count)

	if err := o.build(r, cloud); err != nil {
		o.Release()
		return nil, err
	}

	common.Logger().Info("frame: orchestrator ready",
		"gaussians", count,
		"sortCapacity", o.cfg.Sort.Capacity,
		"sortPasses", o.cfg.Sort.Passes(),
		"resultSlot", o.sort.ResultSlot())
	return o, nil
}

func (o *Orchestrator) build(r renderer.Renderer, cloud *splat.PointCloud) error {
	setOptions := []splat.BufferSetOption{splat.WithGaussianScaling(o.cfg.GaussianScaling)}
	if o.cfg.SHDegree >= 0 {
		setOptions = append(setOptions, splat.WithSHDegree(o.cfg.SHDegree))
	}

	var err error
	if o.set, err = splat.NewBufferSet(r, cloud, setOptions...); err != nil {
		return err
	}
	if o.sort, err = sorter.New(r, o.cfg.Sort); err != nil {
		return err
	}
	o.preprocess, err = preprocess.New(r, o.set,
		o.sort.Keys(sorter.SlotPrimary),
		o.sort.Values(sorter.SlotPrimary),
		preprocess.WithWorkgroupSize(o.cfg.PreprocessWorkgroupSize))
	if err != nil {
		return err
	}
	if o.draw, err = draw.New(r, o.set, o.sort.Values(o.sort.ResultSlot())); err != nil {
		return err
	}
	return nil
}

// Frame renders one frame for a camera and presents it.
//
// Parameters:
//   - r: the renderer the orchestrator was built with
//   - cam: the camera; its uniform is computed for the current target size
//
// Returns:
//   - error: an error from the renderer; the frame is submitted but not presented
func (o *Orchestrator) Frame(r renderer.Renderer, cam camera.Camera) error {
	width, height := r.TargetSize()
	return o.FrameUniform(r, cam.Uniform(width, height))
}

// FrameUniform renders one frame for an already computed camera uniform and presents it.
//
// Parameters:
//   - r: the renderer the orchestrator was built with
//   - u: the camera uniform
//
// Returns:
//   - error: an error from the renderer
func (o *Orchestrator) FrameUniform(r renderer.Renderer, u camera.GPUCameraUniform) error {
	o.preprocess.WriteCamera(r, u)
	if err := r.BeginFrame(); err != nil {
		return fmt.Errorf("frame: begin: %w", err)
	}

	encodeErr := o.Encode(r)
	endErr := r.EndFrame()
	if err := errors.Join(encodeErr, endErr); err != nil {
		common.Logger().Error("frame: failed", "err", err)
		return err
	}
	r.Present()
	return nil
}

// Encode records the five stages into the frame in progress.
//
// Parameters:
//   - r: the renderer with a frame in progress
//
// Returns:
//   - error: the first stage error, wrapped with the stage name
func (o *Orchestrator) Encode(r renderer.Renderer) error {
	for _, stage := range Stages() {
		if o.observer != nil {
			o.observer(stage)
		}
		if err := o.encodeStage(r, stage); err != nil {
			return fmt.Errorf("frame: %s: %w", stage, err)
		}
	}
	return nil
}

func (o *Orchestrator) encodeStage(r renderer.Renderer, stage Stage) error {
	switch stage {
	case StageClearCounters:
		var info sorter.GPUSortInfo
		var dispatch sorter.GPUSortDispatch
		if err := r.ClearBuffer(o.set.ValidCountBuffer(), 0, splat.ValidCountSize); err != nil {
			return err
		}
		if err := r.ClearBuffer(o.sort.Info(), 0, uint64(info.Size())); err != nil {
			return err
		}
		return r.ClearBuffer(o.sort.Dispatch(), 0, uint64(dispatch.Size()))
	case StagePreprocess:
		return o.preprocess.Encode(r)
	case StagePropagateCount:
		if err := r.CopyBuffer(o.set.ValidCountBuffer(), 0, o.set.DrawArgsBuffer(), splat.InstanceCountOffset, splat.ValidCountSize); err != nil {
			return err
		}
		return r.CopyBuffer(o.set.ValidCountBuffer(), 0, o.sort.Info(), sorter.KeysSizeOffset, splat.ValidCountSize)
	case StageSort:
		return o.sort.Encode(r)
	case StageDraw:
		return o.draw.Encode(r)
	default:
		return fmt.Errorf("unknown stage %d", int(stage))
	}
}

// SetGaussianScaling changes the scale modifier from the next frame on.
func (o *Orchestrator) SetGaussianScaling(r renderer.Renderer, scaling float32) {
	o.set.SetGaussianScaling(r, scaling)
}

// SetSHDegree changes the evaluated SH degree from the next frame on, clamped to the cloud's.
func (o *Orchestrator) SetSHDegree(r renderer.Renderer, degree int) {
	o.set.SetSHDegree(r, degree)
}

// Config returns the resolved configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// BufferSet returns the splat buffers.
func (o *Orchestrator) BufferSet() *splat.BufferSet { return o.set }

// Sorter returns the sorter.
func (o *Orchestrator) Sorter() *sorter.Sorter { return o.sort }

// Preprocess returns the preprocess stage.
func (o *Orchestrator) Preprocess() *preprocess.Stage { return o.preprocess }

// Release releases every stage and buffer. Safe on a partially built orchestrator.
func (o *Orchestrator) Release() {
	if o.draw != nil {
		o.draw.Release()
		o.draw = nil
	}
	if o.preprocess != nil {
		o.preprocess.Release()
		o.preprocess = nil
	}
	if o.sort != nil {
		o.sort.Release()
		o.sort = nil
	}
	if o.set != nil {
		o.set.Release()
		o.set = nil
	}
}
