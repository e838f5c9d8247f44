package round

// DefaultWord is shown before the first round starts.
const DefaultWord = "cell phone"

// Vocabulary holds the objects the classifier can recognise.
var Vocabulary = []string{
	"person", "bicycle", "car", "cat", "dog",
	"backpack", "umbrella", "handbag", "tie", "suitcase",
	"frisbee", "sports ball", "skateboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange",
	"chair", "couch", "potted plant", "bed", "dining table",
	"toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "toaster", "book",
	"clock", "vase", "scissors", "hair drier", "toothbrush",
}
