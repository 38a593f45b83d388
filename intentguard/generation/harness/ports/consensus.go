package harnessports

// CodeObject is a named snippet of source code referenced by an assertion placeholder.
type CodeObject struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// QuorumConfig controls how many samples are drawn and how.
type QuorumConfig struct {
	QuorumSize  int
	Model       string
	Temperature float32
}

// Options derives the per-call inference options.
func (q QuorumConfig) Options() InferenceOptions {
	return InferenceOptions{Temperature: q.Temperature, Model: q.Model}
}

// ConsensusResult is the majority-vote aggregate for one assertion. It is the cached value.
type ConsensusResult struct {
	Result      bool   `json:"result"`
	Explanation string `json:"explanation"`
}
