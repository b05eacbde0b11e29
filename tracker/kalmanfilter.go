package tracker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrFactorize is returned when the projected covariance of a track is not
// positive definite
var ErrFactorize = errors.New("failed to factorize projected covariance")

// KalmanState is the per track filter state.  Mean holds the Xyah position
// followed by its velocity and Cov is the 8x8 covariance.
type KalmanState struct {
	Mean [8]float64
	Cov  *mat.Dense
}

// KalmanFilter is a constant velocity Kalman filter in Xyah space, the
// filter itself is stateless and shared by all tracks
type KalmanFilter struct {
	stdWeightPosition float64
	stdWeightVelocity float64
	motionMat         *mat.Dense
	updateMat         *mat.Dense
}

// NewKalmanFilter initializes and returns a new KalmanFilter
func NewKalmanFilter(stdWeightPosition, stdWeightVelocity float64) *KalmanFilter {

	const ndim = 4
	const dt = 1.0

	// identity with dt coupling position to velocity
	motionMat := mat.NewDense(2*ndim, 2*ndim, nil)

	for i := 0; i < 2*ndim; i++ {
		motionMat.Set(i, i, 1.0)
	}

	for i := 0; i < ndim; i++ {
		motionMat.Set(i, ndim+i, dt)
	}

	// observe position only
	updateMat := mat.NewDense(ndim, 2*ndim, nil)

	for i := 0; i < ndim; i++ {
		updateMat.Set(i, i, 1.0)
	}

	return &KalmanFilter{
		stdWeightPosition: stdWeightPosition,
		stdWeightVelocity: stdWeightVelocity,
		motionMat:         motionMat,
		updateMat:         updateMat,
	}
}

// DefaultKalmanFilter returns a filter with the weights used by SORT and
// ByteTrack
func DefaultKalmanFilter() *KalmanFilter {
	return NewKalmanFilter(1.0/20, 1.0/160)
}

// Initiate creates the state for a new track from its first measurement
func (kf *KalmanFilter) Initiate(measurement Xyah) *KalmanState {

	s := &KalmanState{Cov: mat.NewDense(8, 8, nil)}

	copy(s.Mean[:4], measurement[:])

	h := measurement[3]
	std := [8]float64{
		2 * kf.stdWeightPosition * h,  // x position
		2 * kf.stdWeightPosition * h,  // y position
		1e-2,                          // aspect ratio
		2 * kf.stdWeightPosition * h,  // height
		10 * kf.stdWeightVelocity * h, // x velocity
		10 * kf.stdWeightVelocity * h, // y velocity
		1e-5,                          // aspect ratio velocity
		10 * kf.stdWeightVelocity * h, // height velocity
	}

	for i, v := range std {
		s.Cov.Set(i, i, v*v)
	}

	return s
}

// Predict advances the state one frame
func (kf *KalmanFilter) Predict(s *KalmanState) {

	h := s.Mean[3]
	std := [8]float64{
		kf.stdWeightPosition * h,
		kf.stdWeightPosition * h,
		1e-2,
		kf.stdWeightPosition * h,
		kf.stdWeightVelocity * h,
		kf.stdWeightVelocity * h,
		1e-5,
		kf.stdWeightVelocity * h,
	}

	motionCov := mat.NewDiagDense(8, nil)

	for i, v := range std {
		motionCov.SetDiag(i, v*v)
	}

	var mean mat.VecDense
	mean.MulVec(kf.motionMat, mat.NewVecDense(8, s.Mean[:]))

	for i := range s.Mean {
		s.Mean[i] = mean.AtVec(i)
	}

	var cov mat.Dense
	cov.Mul(kf.motionMat, s.Cov)
	cov.Mul(&cov, kf.motionMat.T())
	cov.Add(&cov, motionCov)

	s.Cov = &cov
}

// Update corrects the state with a new measurement
func (kf *KalmanFilter) Update(s *KalmanState, measurement Xyah) error {

	projectedMean, projectedCov := kf.project(s)

	var chol mat.Cholesky

	if ok := chol.Factorize(projectedCov); !ok {
		return ErrFactorize
	}

	// B = P H^T, gain^T solves S K^T = B^T
	var b mat.Dense
	b.Mul(s.Cov, kf.updateMat.T())

	var gainT mat.Dense

	if err := chol.SolveTo(&gainT, b.T()); err != nil {
		return fmt.Errorf("failed to compute kalman gain: %w", err)
	}

	innovation := mat.NewVecDense(4, nil)

	for i := 0; i < 4; i++ {
		innovation.SetVec(i, measurement[i]-projectedMean[i])
	}

	var correction mat.VecDense
	correction.MulVec(gainT.T(), innovation)

	for i := range s.Mean {
		s.Mean[i] += correction.AtVec(i)
	}

	// P = P - K S K^T
	var ks mat.Dense
	ks.Mul(gainT.T(), projectedCov)

	var kskt mat.Dense
	kskt.Mul(&ks, &gainT)

	var cov mat.Dense
	cov.Sub(s.Cov, &kskt)

	s.Cov = &cov

	return nil
}

// project maps the state into measurement space adding measurement noise
func (kf *KalmanFilter) project(s *KalmanState) (Xyah, *mat.SymDense) {

	h := s.Mean[3]
	std := [4]float64{
		kf.stdWeightPosition * h,
		kf.stdWeightPosition * h,
		1e-1,
		kf.stdWeightPosition * h,
	}

	var mean Xyah
	copy(mean[:], s.Mean[:4])

	var tmp mat.Dense
	tmp.Mul(kf.updateMat, s.Cov)

	var hph mat.Dense
	hph.Mul(&tmp, kf.updateMat.T())

	cov := mat.NewSymDense(4, nil)

	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			v := hph.At(i, j)
			if i == j {
				v += std[i] * std[i]
			}
			cov.SetSym(i, j, v)
		}
	}

	return mean, cov
}
