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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// relayNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	relayNamespace = "relay"

	sessionSubsystem   = "session"
	broadcastSubsystem = "broadcast"
	adminSubsystem     = "admin"

	// 以下为当前使用的通用标签名。
	roomLabelName    = "room"
	stateLabelName   = "state"
	reasonLabelName  = "reason"
	commandLabelName = "command"
	stageLabelName   = "stage"
)

var (
	// buckets 为广播耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [0.25 0.5 1 2 4 8 16 32 64 128 256 512]
	buckets = prometheus.ExponentialBuckets(0.25, 2, 12)

	registerOnce sync.Once

	SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "active",
			Help:      "number of sessions currently held by the registry, by state",
		}, []string{stateLabelName})

	RoomMembers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "room_members",
			Help:      "number of active sessions per room",
		}, []string{roomLabelName})

	SessionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "accepted_total",
			Help:      "connections admitted into the registry",
		})

	SessionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "rejected_total",
			Help:      "connections refused at accept time",
		}, []string{reasonLabelName})

	SessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "closed_total",
			Help:      "sessions torn down, by cause",
		}, []string{reasonLabelName})

	SessionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "errors_total",
			Help:      "per-session network errors, by stage",
		}, []string{stageLabelName})

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: broadcastSubsystem,
			Name:      "messages_received_total",
			Help:      "chat lines accepted from active sessions",
		})

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: broadcastSubsystem,
			Name:      "messages_dropped_total",
			Help:      "lines that were not delivered, by reason",
		}, []string{reasonLabelName})

	Deliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: broadcastSubsystem,
			Name:      "deliveries_total",
			Help:      "lines enqueued to recipients",
		})

	BroadcastLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: relayNamespace,
			Subsystem: broadcastSubsystem,
			Name:      "latency_milliseconds",
			Help:      "time spent fanning out one line",
			Buckets:   buckets,
		})

	AdminCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: adminSubsystem,
			Name:      "commands_total",
			Help:      "operator commands executed",
		}, []string{commandLabelName})

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(SessionsActive)
		r.MustRegister(RoomMembers)
		r.MustRegister(SessionsAccepted)
		r.MustRegister(SessionsRejected)
		r.MustRegister(SessionsClosed)
		r.MustRegister(SessionErrors)
		r.MustRegister(MessagesReceived)
		r.MustRegister(MessagesDropped)
		r.MustRegister(Deliveries)
		r.MustRegister(BroadcastLatency)
		r.MustRegister(AdminCommands)
		registerChatlogMetrics(r)
		metricRegisterer = r
	})
}
