// Copyright 2015-2018 trivago N.V.
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

package clients

import (
	"github.com/trivago/tgo"
)

const (
	metricMessagesProduced = "Messages:Produced"
	metricMessagesRetried  = "Messages:Retried"
	metricMessagesConsumed = "Messages:Consumed"
	metricOffsetCommits    = "Offsets:Commits"
)

func init() {
	tgo.EnableGlobalMetrics()

	tgo.Metric.New(metricMessagesProduced)
	tgo.Metric.New(metricMessagesRetried)
	tgo.Metric.New(metricMessagesConsumed)
	tgo.Metric.New(metricOffsetCommits)
}
