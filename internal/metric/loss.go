package metric

import "math"

// Loss is a running average of per-shard loss values.
type Loss struct {
	name string
	sum  float64
	num  int
}

// NewLoss creates an empty running average named name.
func NewLoss(name string) *Loss {
	return &Loss{name: name}
}

// Reset clears the average.
func (l *Loss) Reset() {
	l.sum, l.num = 0, 0
}

// Update adds one value per shard.
func (l *Loss) Update(values ...float32) {
	for _, v := range values {
		l.sum += float64(v)
	}
	l.num += len(values)
}

// Get returns the name and the average, NaN before the first update.
func (l *Loss) Get() (string, float64) {
	if l.num == 0 {
		return l.name, math.NaN()
	}
	return l.name, l.sum / float64(l.num)
}
