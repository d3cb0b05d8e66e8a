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

package metric

import (
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// namespace prefixes every exported metric name.
const namespace = "wmap"

// prometheusName converts a metric path such as "/mm/faults" to a valid
// Prometheus metric name such as "wmap_mm_faults".
func prometheusName(name string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// family converts m into a Prometheus counter family with one sample per
// field value combination.
func (m *Uint64Metric) family() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(prometheusName(m.name)),
		Help: proto.String(m.description),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for key := range m.fields {
		sample := &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(m.fields[key].Load()))},
		}
		values := m.fieldMapper.keyToMultiField(key)
		for i, f := range m.fieldMapper.fields {
			sample.Label = append(sample.Label, &dto.LabelPair{
				Name:  proto.String(f.name),
				Value: proto.String(values[i]),
			})
		}
		mf.Metric = append(mf.Metric, sample)
	}
	return mf
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, m := range allMetrics.sorted() {
		if _, err := expfmt.MetricFamilyToText(w, m.family()); err != nil {
			return err
		}
	}
	return nil
}
