package speech

// AudioChunk is synthesized audio pushed to the client.
type AudioChunk struct {
	Format string `json:"format"`
	Data   []byte `json:"data"`
	Final  bool   `json:"final"`
}
