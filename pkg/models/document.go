package models

// RawDocument is the OCR output handed to the pipeline
type RawDocument struct {
	Text       string  // Full text in reading order
	Words      []Word  // Optional positioned words
	Confidence float64 // OCR confidence in [0,1], zero when unknown
	Language   string
}

type Word struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
