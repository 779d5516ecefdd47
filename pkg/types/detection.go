package types

// MaxDetections is the fixed number of rows a backend emits per inference.
// Rows past the last real detection are zero-filled.
const MaxDetections = 20

// DetectionFields is the number of float32 fields per detection row:
// class id, score, y1, x1, y2, x2.
const DetectionFields = 6

// DefaultThreshold is the score cutoff applied when the caller does not
// supply one.
const DefaultThreshold float32 = 0.4

// Box is a bounding box in normalized [0,1] image coordinates.
type Box struct {
	Y1 float32
	X1 float32
	Y2 float32
	X2 float32
}

// Detection is one labeled detection produced by a backend.
type Detection struct {
	Label string  // From the caller-supplied label table
	Score float32 // Confidence in [0,1]
	Box   Box
}

// LabelMap maps backend class ids to human-readable labels. Loading the
// table from a label file is the responsibility of the caller.
type LabelMap map[int]string

// Label returns the label for a class id, or "unknown" when the id is not
// in the table.
func (m LabelMap) Label(classID int) string {
	if label, ok := m[classID]; ok {
		return label
	}
	return "unknown"
}

// FilterDetections converts raw (MaxDetections x DetectionFields) rows into
// labeled detections, keeping rows with score >= threshold.
//
// Backends emit rows in non-increasing score order, so filtering stops at
// the first row below the threshold. Rows is read in row-major order and
// may be shorter than MaxDetections rows.
func FilterDetections(rows []float32, threshold float32, labels LabelMap) []Detection {
	var detections []Detection
	for i := 0; i+DetectionFields <= len(rows); i += DetectionFields {
		row := rows[i : i+DetectionFields]
		if row[1] < threshold {
			break
		}
		detections = append(detections, Detection{
			Label: labels.Label(int(row[0])),
			Score: row[1],
			Box:   Box{Y1: row[2], X1: row[3], Y2: row[4], X2: row[5]},
		})
	}
	return detections
}
