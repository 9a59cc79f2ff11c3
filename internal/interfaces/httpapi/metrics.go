package httpapi

import (
	"sync"
	"time"
)

// Metrics collects process-local counters for the /metrics endpoint. The
// tracker feeds it through the updater observer hooks; the archiver feeds
// the kafka consumer counters.
type Metrics struct {
	mu                sync.RWMutex
	startTime         time.Time
	latestBlock       uint64
	recordsTracked    uint64
	checksPerformed   uint64
	recordsFinalized  uint64
	receiptsSucceeded uint64
	receiptsFailed    uint64
	submissionErrs    uint64
	kafkaMessages     uint64
	kafkaDecodeErrs   uint64
	kafkaApplyErrs    uint64
	kafkaCommitErrs   uint64
	kafkaFetchErrs    uint64
	kafkaLastTopic    string
	kafkaLastOffset   int64
	kafkaLastLag      time.Duration
	kafkaMaxLag       time.Duration
	kafkaTopicCount   map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime:       time.Now(),
		kafkaTopicCount: make(map[string]uint64),
	}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = block
}

func (m *Metrics) OnRecordChecked(chainID uint64, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checksPerformed++
}

func (m *Metrics) OnRecordFinalized(chainID uint64, hash string, status uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checksPerformed++
	m.recordsFinalized++
	if status == 1 {
		m.receiptsSucceeded++
	} else {
		m.receiptsFailed++
	}
}

func (m *Metrics) IncRecordTracked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsTracked++
}

func (m *Metrics) IncSubmissionErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissionErrs++
}

func (m *Metrics) IncKafkaDecodeErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaDecodeErrs++
}

func (m *Metrics) IncKafkaApplyErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaApplyErrs++
}

func (m *Metrics) IncKafkaCommitErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaCommitErrs++
}

func (m *Metrics) IncKafkaFetchErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaFetchErrs++
}

func (m *Metrics) ObserveKafkaMessage(topic string, offset int64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaMessages++
	m.kafkaLastTopic = topic
	m.kafkaLastOffset = offset
	if !ts.IsZero() {
		lag := time.Since(ts)
		m.kafkaLastLag = lag
		if lag > m.kafkaMaxLag {
			m.kafkaMaxLag = lag
		}
	}
	if topic != "" {
		m.kafkaTopicCount[topic]++
	}
}

type Snapshot struct {
	StartTime         time.Time
	LatestBlock       uint64
	RecordsTracked    uint64
	ChecksPerformed   uint64
	RecordsFinalized  uint64
	ReceiptsSucceeded uint64
	ReceiptsFailed    uint64
	SubmissionErrs    uint64
	KafkaMessages     uint64
	KafkaDecodeErrs   uint64
	KafkaApplyErrs    uint64
	KafkaCommitErrs   uint64
	KafkaFetchErrs    uint64
	KafkaLastTopic    string
	KafkaLastOffset   int64
	KafkaLastLag      time.Duration
	KafkaMaxLag       time.Duration
	KafkaTopicCount   map[string]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:         m.startTime,
		LatestBlock:       m.latestBlock,
		RecordsTracked:    m.recordsTracked,
		ChecksPerformed:   m.checksPerformed,
		RecordsFinalized:  m.recordsFinalized,
		ReceiptsSucceeded: m.receiptsSucceeded,
		ReceiptsFailed:    m.receiptsFailed,
		SubmissionErrs:    m.submissionErrs,
		KafkaMessages:     m.kafkaMessages,
		KafkaDecodeErrs:   m.kafkaDecodeErrs,
		KafkaApplyErrs:    m.kafkaApplyErrs,
		KafkaCommitErrs:   m.kafkaCommitErrs,
		KafkaFetchErrs:    m.kafkaFetchErrs,
		KafkaLastTopic:    m.kafkaLastTopic,
		KafkaLastOffset:   m.kafkaLastOffset,
		KafkaLastLag:      m.kafkaLastLag,
		KafkaMaxLag:       m.kafkaMaxLag,
		KafkaTopicCount:   copyTopicCounts(m.kafkaTopicCount),
	}
}

func copyTopicCounts(source map[string]uint64) map[string]uint64 {
	if len(source) == 0 {
		return nil
	}
	clone := make(map[string]uint64, len(source))
	for key, value := range source {
		clone[key] = value
	}
	return clone
}
