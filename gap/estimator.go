package gap

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// TwistSample is one timestamped robot motion sample, used to ego-compensate
// endpoint estimates between filter updates.
type TwistSample struct {
	Time    time.Time
	Linear  r3.Vector
	Angular float64
}

// Default filter noise. Position measurements come straight off the scan so
// the measurement variance is tied to ray discretization; the process noise
// admits modestly accelerating agents.
const (
	defaultProcessVar     = 0.10
	defaultMeasurementVar = 0.05
	initialPosVar         = 0.10
	initialVelVar         = 1.00
)

// Estimator is a per-endpoint Kalman filter over the 4D state
// (x, y, vx, vy) in the robot frame. Position is the endpoint relative to the
// robot; velocity is relative to the robot frame. A frozen copy of the state
// supports horizon integration without disturbing the filter.
type Estimator struct {
	modelID int

	state *mat.VecDense // (x, y, vx, vy)
	cov   *mat.Dense

	egoVel     r3.Vector
	lastUpdate time.Time

	frozen *mat.VecDense

	processVar     float64
	measurementVar float64
}

// NewEstimator returns a filter initialized at the measured endpoint position
// with zero relative velocity.
func NewEstimator(modelID int, pos r3.Vector, t time.Time) *Estimator {
	cov := mat.NewDense(4, 4, nil)
	cov.Set(0, 0, initialPosVar)
	cov.Set(1, 1, initialPosVar)
	cov.Set(2, 2, initialVelVar)
	cov.Set(3, 3, initialVelVar)
	return &Estimator{
		modelID:        modelID,
		state:          mat.NewVecDense(4, []float64{pos.X, pos.Y, 0, 0}),
		cov:            cov,
		frozen:         mat.NewVecDense(4, []float64{pos.X, pos.Y, 0, 0}),
		lastUpdate:     t,
		processVar:     defaultProcessVar,
		measurementVar: defaultMeasurementVar,
	}
}

// ModelID returns the unique ID assigned when this filter was created. The ID
// travels with the filter across gap associations.
func (e *Estimator) ModelID() int {
	return e.modelID
}

// State returns the current position and robot-relative velocity estimates.
func (e *Estimator) State() (pos, vel r3.Vector) {
	pos = r3.Vector{X: e.state.AtVec(0), Y: e.state.AtVec(1)}
	vel = r3.Vector{X: e.state.AtVec(2), Y: e.state.AtVec(3)}
	return pos, vel
}

// EgoVel returns the robot velocity recorded at the last update.
func (e *Estimator) EgoVel() r3.Vector {
	return e.egoVel
}

// transitionMatrix builds the state transition for one ego-compensated step:
// the robot frame rotates by omega*dt, positions advance by the relative
// velocity.
func transitionMatrix(dt, omega float64) *mat.Dense {
	sin, cos := math.Sincos(-omega * dt)
	return mat.NewDense(4, 4, []float64{
		cos, -sin, dt * cos, -dt * sin,
		sin, cos, dt * sin, dt * cos,
		0, 0, cos, -sin,
		0, 0, sin, cos,
	})
}

func (e *Estimator) processNoise(dt float64) *mat.Dense {
	q := mat.NewDense(4, 4, nil)
	dt2 := dt * dt
	q.Set(0, 0, e.processVar*dt2)
	q.Set(1, 1, e.processVar*dt2)
	q.Set(2, 2, e.processVar*dt)
	q.Set(3, 3, e.processVar*dt)
	return q
}

// predict advances the state by dt under one robot motion sample. The
// relative velocity sheds the robot's acceleration and the whole state
// rotates against the robot's yaw rate.
func (e *Estimator) predict(dt float64, sample TwistSample, accel r3.Vector) {
	if dt <= 0 {
		return
	}

	a := transitionMatrix(dt, sample.Angular)

	// relative velocity loses what the robot gains
	e.state.SetVec(2, e.state.AtVec(2)-accel.X*dt)
	e.state.SetVec(3, e.state.AtVec(3)-accel.Y*dt)

	next := mat.NewVecDense(4, nil)
	next.MulVec(a, e.state)
	e.state.CopyVec(next)

	var ap, apat mat.Dense
	ap.Mul(a, e.cov)
	apat.Mul(&ap, a.T())
	apat.Add(&apat, e.processNoise(dt))
	e.cov.Copy(&apat)
}

// Update runs the predict-correct cycle for a new endpoint measurement taken
// at scanTime. The intermediate velocity and acceleration samples cover the
// span since the previous update and drive ego-motion compensation.
func (e *Estimator) Update(meas r3.Vector, vels, accs []TwistSample, scanTime time.Time) {
	t := e.lastUpdate
	for i, sample := range vels {
		end := scanTime
		if i+1 < len(vels) {
			end = vels[i+1].Time
		}
		if end.After(scanTime) {
			end = scanTime
		}
		dt := end.Sub(t).Seconds()
		accel := r3.Vector{}
		if i < len(accs) {
			accel = accs[i].Linear
		}
		e.predict(dt, sample, accel)
		if dt > 0 {
			t = end
		}
		e.egoVel = sample.Linear
	}
	if dt := scanTime.Sub(t).Seconds(); dt > 0 && len(vels) == 0 {
		e.predict(dt, TwistSample{Linear: e.egoVel}, r3.Vector{})
	}
	e.lastUpdate = scanTime

	e.correct(meas)
	e.frozen.CopyVec(e.state)
}

// correct folds the position measurement into the state.
func (e *Estimator) correct(meas r3.Vector) {
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	r := mat.NewDense(2, 2, []float64{
		e.measurementVar, 0,
		0, e.measurementVar,
	})

	var ph, s mat.Dense
	ph.Mul(e.cov, h.T())
	s.Mul(h, &ph)
	s.Add(&s, r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// innovation covariance is numerically singular; skip the correction
		return
	}

	var k mat.Dense
	k.Mul(&ph, &sInv)

	innovation := mat.NewVecDense(2, []float64{
		meas.X - e.state.AtVec(0),
		meas.Y - e.state.AtVec(1),
	})
	update := mat.NewVecDense(4, nil)
	update.MulVec(&k, innovation)
	e.state.AddVec(e.state, update)

	var kh, identMinus, newCov mat.Dense
	kh.Mul(&k, h)
	eye := mat.NewDiagDense(4, []float64{1, 1, 1, 1})
	identMinus.Sub(eye, &kh)
	newCov.Mul(&identMinus, e.cov)
	e.cov.Copy(&newCov)
}

// IsolateGapDynamics rebases the frozen state so its velocity describes the
// endpoint's motion as if the robot were stationary. Horizon integrations via
// Integrate then simulate pure gap motion.
func (e *Estimator) IsolateGapDynamics() {
	e.frozen.CopyVec(e.state)
	e.frozen.SetVec(2, e.frozen.AtVec(2)+e.egoVel.X)
	e.frozen.SetVec(3, e.frozen.AtVec(3)+e.egoVel.Y)
}

// Integrate advances the frozen state by dt at its current velocity. The
// primary filter state is untouched.
func (e *Estimator) Integrate(dt float64) {
	e.frozen.SetVec(0, e.frozen.AtVec(0)+e.frozen.AtVec(2)*dt)
	e.frozen.SetVec(1, e.frozen.AtVec(1)+e.frozen.AtVec(3)*dt)
}

// FrozenState returns the frozen position and velocity.
func (e *Estimator) FrozenState() (pos, vel r3.Vector) {
	pos = r3.Vector{X: e.frozen.AtVec(0), Y: e.frozen.AtVec(1)}
	vel = r3.Vector{X: e.frozen.AtVec(2), Y: e.frozen.AtVec(3)}
	return pos, vel
}

// Copy returns an independent deep copy of the filter, preserving the model
// ID. Feasibility analysis simulates on copies so the tracked filters keep
// their state.
func (e *Estimator) Copy() *Estimator {
	cp := &Estimator{
		modelID:        e.modelID,
		state:          mat.NewVecDense(4, nil),
		cov:            mat.NewDense(4, 4, nil),
		frozen:         mat.NewVecDense(4, nil),
		egoVel:         e.egoVel,
		lastUpdate:     e.lastUpdate,
		processVar:     e.processVar,
		measurementVar: e.measurementVar,
	}
	cp.state.CopyVec(e.state)
	cp.cov.Copy(e.cov)
	cp.frozen.CopyVec(e.frozen)
	return cp
}
