// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrFieldValueContainsIllegalChar indicates that the value of a metric
	// field had an invalid character in it.
	ErrFieldValueContainsIllegalChar = errors.New("metric field value contains illegal character")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// maxFieldCombinations bounds the number of counters a single metric may
// keep.
const maxFieldCombinations = 1024

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper maps a combination of field values to an index in a flat
// counter array, and back.
type fieldMapper struct {
	fields []Field
}

func newFieldMapper(fields ...Field) (fieldMapper, error) {
	total := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		for _, v := range f.allowedValues {
			if strings.ContainsAny(v, ",\"\\\n") {
				return fieldMapper{}, ErrFieldValueContainsIllegalChar
			}
		}
		total *= len(f.allowedValues)
		if total > maxFieldCombinations {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{fields: fields}, nil
}

// numKeys returns the number of distinct field value combinations.
func (m fieldMapper) numKeys() int {
	n := 1
	for _, f := range m.fields {
		n *= len(f.allowedValues)
	}
	return n
}

// lookup returns the index of the given field values. It panics if the
// number of values is wrong or a value is not allowed.
func (m fieldMapper) lookup(fieldValues ...string) int {
	if len(fieldValues) != len(m.fields) {
		panic(fmt.Sprintf("invalid field values %v for %d fields", fieldValues, len(m.fields)))
	}
	key := 0
	for i, f := range m.fields {
		idx := -1
		for j, v := range f.allowedValues {
			if v == fieldValues[i] {
				idx = j
				break
			}
		}
		if idx < 0 {
			panic(fmt.Sprintf("value %q not allowed for field %q", fieldValues[i], f.name))
		}
		key = key*len(f.allowedValues) + idx
	}
	return key
}

// keyToMultiField is the inverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	values := make([]string, len(m.fields))
	for i := len(m.fields) - 1; i >= 0; i-- {
		n := len(m.fields[i].allowedValues)
		values[i] = m.fields[i].allowedValues[key%n]
		key /= n
	}
	return values
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	name        string
	description string

	// fields is the map of field-value combination index keys to Uint64 counters.
	fields []atomic.Uint64

	// fieldMapper is used to generate index keys for the fields array (above)
	// based on field value combinations, and vice-versa.
	fieldMapper fieldMapper
}

// metricSet holds all registered metrics.
type metricSet struct {
	mu            sync.Mutex
	uint64Metrics map[string]*Uint64Metric
}

func makeMetricSet() *metricSet {
	return &metricSet{uint64Metrics: make(map[string]*Uint64Metric)}
}

// sorted returns the registered metrics ordered by name.
func (s *metricSet) sorted() []*Uint64Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := make([]*Uint64Metric, 0, len(s.uint64Metrics))
	for _, m := range s.uint64Metrics {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].name < ms[j].name })
	return ms
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name string, description string, fields ...Field) (*Uint64Metric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		fieldMapper: f,
		fields:      make([]atomic.Uint64, f.numKeys()),
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.uint64Metrics[name]; ok {
		return nil, ErrNameInUse
	}
	allMetrics.uint64Metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.fields[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(v)
}
