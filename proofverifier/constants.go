package proofverifier

// Display and Formatting Constants
const (
	MaskByte              = 'X' // Stands in for every undisclosed transcript byte
	MaskCollapseThreshold = 100 // Number of consecutive mask bytes before collapsing
	CollapsedMaskPattern  = "XXXXXXXXX..."
)

// DefaultMaxTranscriptLen bounds each transcript length a proof may claim
// when Options.MaxTranscriptLen is unset
const DefaultMaxTranscriptLen = 64 << 20
