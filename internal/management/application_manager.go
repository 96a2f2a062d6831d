package management

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"biped/internal/actuator"
	"biped/internal/control"
	"biped/internal/core"
	"biped/internal/ipc"
	"biped/internal/locomotion"
	"biped/internal/logging"
	"biped/pkg/types"
)

// ApplicationManager wires the motion core on top of a started
// InfrastructureManager.
type ApplicationManager struct {
	infrastructure *InfrastructureManager
	config         types.SystemConfig

	registry  *actuator.Registry
	scheduler *core.Scheduler
	cycle     *control.Cycle
	server    *ipc.Server
	mapper    locomotion.JointMapper

	logger *logging.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	walks int
}

func NewApplicationManager(infrastructure *InfrastructureManager) (*ApplicationManager, error) {
	link := infrastructure.Link()
	if link == nil {
		return nil, errors.New("infrastructure layer is not started")
	}
	cfg := infrastructure.GetSystemConfig()

	am := &ApplicationManager{
		infrastructure: infrastructure,
		config:         cfg,
		logger:         logging.GetLogger("application"),
	}

	am.registry = actuator.NewRegistry(link, cfg.Actuators, cfg.Configurations,
		actuator.WithReadConcurrency(cfg.Motion.ReadConcurrency))
	am.scheduler = core.NewScheduler()
	am.cycle = control.NewCycle(am.registry, am.scheduler, cfg.Motion.Iteration)

	if rec := infrastructure.Recorder(); rec != nil {
		am.cycle.AddObserver(rec)
	}
	if cfg.StatusServer.Enabled {
		am.server = ipc.NewServer(cfg.StatusServer, am.registry, am.cycle, am.scheduler)
		am.cycle.AddObserver(am.server)
	}

	legs, err := am.registry.Group(types.GroupAllLegs)
	if err != nil {
		return nil, fmt.Errorf("legs group: %w", err)
	}
	am.mapper = locomotion.NewSwayMapper(legs, cfg.Motion.InitPosition, cfg.Motion.Walk.PelvisHeight)

	am.logger.Info("Application layer created", "actuators", len(am.registry.Names()), "legs", len(legs))
	return am, nil
}

func (am *ApplicationManager) Registry() *actuator.Registry { return am.registry }
func (am *ApplicationManager) Scheduler() *core.Scheduler { return am.scheduler }
func (am *ApplicationManager) Cycle() *control.Cycle { return am.cycle }

// Start enables torque, runs the optional init ramp and starts the control
// cycle. With motion enabled it also starts walking to the configured target
// over and over.
func (am *ApplicationManager) Start(ctx context.Context) error {
	ctx, am.cancel = context.WithCancel(ctx)
	motion := am.config.Motion

	if am.server != nil {
		if err := am.server.Start(); err != nil {
			return err
		}
	}

	if motion.ActivateMotor {
		if err := am.registry.SetTorque(ctx, true, types.GroupAllMotors); err != nil {
			am.logger.Warn("Torque not enabled on every actuator", "error", err)
		}
	}
	if motion.PerformInitPosition {
		if err := am.registry.InitPosition(ctx, motion.InitPosition, types.GroupAllLegs, motion.InitTotal, motion.InitStep); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			am.logger.Warn("Init position skipped", "error", err)
		}
	}

	am.wg.Add(1)
	go func() {
		defer am.wg.Done()
		if err := core.PinThread(am.config.Scheduler.IOPriority); err != nil {
			am.logger.Debug("Priority hint not applied", "priority", int(am.config.Scheduler.IOPriority), "error", err)
		}
		if err := am.cycle.Run(ctx); err != nil {
			am.logger.Error("Control cycle failed", "error", err)
		}
	}()

	if motion.Enabled {
		am.wg.Add(1)
		go func() {
			defer am.wg.Done()
			target := r2.Point{X: motion.Walk.TargetX, Y: motion.Walk.TargetY}
			if err := am.RunWalks(ctx, target, 0); err != nil && !errors.Is(err, context.Canceled) {
				am.logger.Error("Walking stopped", "error", err)
			}
		}()
	}

	am.logger.Info("Application layer started", "motion", motion.Enabled)
	return nil
}

// waitSlot blocks until no worker is bound to the legs-control slot.
func (am *ApplicationManager) waitSlot(ctx context.Context) error {
	select {
	case <-am.scheduler.Released(types.TaskLegsControl):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Walk binds a walk from the robot's current position to target, given in
// the robot frame, to the legs-control slot. The control cycle plays it.
func (am *ApplicationManager) Walk(ctx context.Context, target r2.Point) (*locomotion.Walk, error) {
	if err := am.waitSlot(ctx); err != nil {
		return nil, err
	}
	walk, err := locomotion.NewWalk(r2.Point{}, target, am.config.Motion.Walk, am.mapper, am.registry, types.GroupAllLegs)
	if err != nil {
		return nil, err
	}
	if _, err := am.scheduler.Create(am.config.Scheduler.LegsPriority, walk.Step, types.TaskLegsControl, core.StartPaused()); err != nil {
		return nil, err
	}

	am.mu.Lock()
	am.walks++
	n := am.walks
	am.mu.Unlock()
	am.logger.Info("Walking", "walk", n, "target_x", target.X, "target_y", target.Y, "frames", len(walk.Frames()))
	return walk, nil
}

// RunWalks walks to target count times, or until ctx ends when count is 0.
func (am *ApplicationManager) RunWalks(ctx context.Context, target r2.Point, count int) error {
	for i := 0; count == 0 || i < count; i++ {
		walk, err := am.Walk(ctx, target)
		if err != nil {
			return err
		}
		select {
		case <-walk.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Walks returns how many walks have been started.
func (am *ApplicationManager) Walks() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.walks
}

// Stop ends walking and the control cycle and stops every worker.
func (am *ApplicationManager) Stop() error {
	am.logger.Info("Stopping application layer")
	if am.cancel != nil {
		am.cancel()
	}
	am.wg.Wait()
	am.scheduler.StopAll()

	if am.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := am.server.Stop(ctx); err != nil {
			return fmt.Errorf("status server stop error: %w", err)
		}
	}
	am.logger.Info("Application layer stopped successfully")
	return nil
}
