package warmup

var (
	ContainsMarker = containsMarker
	ScanChunk      = scanChunk
)
