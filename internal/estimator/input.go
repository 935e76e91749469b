package estimator

import (
	"github.com/born-ml/centernet/internal/tensor"
)

// InputKind tells which field of an Input is set.
type InputKind int

// Input kinds.
const (
	InputInvalid InputKind = iota
	InputPath
	InputTensor
	InputTable
)

func (k InputKind) String() string {
	switch k {
	case InputPath:
		return "path"
	case InputTensor:
		return "tensor"
	case InputTable:
		return "table"
	default:
		return "invalid"
	}
}

// ImageColumn is the table column holding image references.
const ImageColumn = "image"

// Table is a tabular prediction input. Each row holds an image reference
// (local path or URL) under ImageColumn.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// Input is a prediction input: an image path or URL, a decoded image, or a
// table of image references.
type Input struct {
	kind   InputKind
	path   string
	tensor *tensor.Tensor
	table  Table
}

// PathInput refers to a local image file or an http(s) URL.
func PathInput(path string) Input {
	return Input{kind: InputPath, path: path}
}

// TensorInput wraps a decoded HWC image with values in [0, 255].
func TensorInput(img *tensor.Tensor) Input {
	return Input{kind: InputTensor, tensor: img}
}

// TableInput wraps a table of image references.
func TableInput(t Table) Input {
	return Input{kind: InputTable, table: t}
}

// Kind returns which kind of input in holds.
func (in Input) Kind() InputKind {
	return in.kind
}
