// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	chatlogMetricSubsystem = "chatlog"
)

var (
	ChatlogAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Subsystem: chatlogMetricSubsystem,
		Name:      "appends_total",
		Help:      "写入聊天日志的行数",
	})

	ChatlogAppendBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Subsystem: chatlogMetricSubsystem,
		Name:      "append_bytes_total",
		Help:      "写入聊天日志的总字节数",
	})

	ChatlogIOFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Subsystem: chatlogMetricSubsystem,
		Name:      "io_failures_total",
		Help:      "聊天日志写入失败的次数，失败不会阻塞投递",
	})

	ChatlogRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Subsystem: chatlogMetricSubsystem,
		Name:      "rotations_total",
		Help:      "因日期变化切换日志文件的次数",
	})

	ChatlogSearches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Subsystem: chatlogMetricSubsystem,
		Name:      "searches_total",
		Help:      "管理端执行 grep 的次数",
	})
)

func registerChatlogMetrics(r prometheus.Registerer) {
	r.MustRegister(ChatlogAppends)
	r.MustRegister(ChatlogAppendBytes)
	r.MustRegister(ChatlogIOFailure)
	r.MustRegister(ChatlogRotations)
	r.MustRegister(ChatlogSearches)
}
