package attendance

import "gymaccess/internal/model"

// Merge builds the present-today list. Attendance order is kept. Each
// national ID appears once (first occurrence wins) and records without one
// are dropped. When the directory has the same national ID, its name and
// photo replace the attendance record's; category and timestamp always come
// from attendance.
func Merge(attendance []model.AttendanceRecord, directory []model.DirectoryRecord) []model.AttendanceRecord {
	byID := make(map[string]model.DirectoryRecord, len(directory))
	for _, d := range directory {
		key := d.Key()
		if key == "" {
			continue
		}
		if _, dup := byID[key]; !dup {
			byID[key] = d
		}
	}

	out := make([]model.AttendanceRecord, 0, len(attendance))
	seen := make(map[string]struct{}, len(attendance))
	for _, a := range attendance {
		key := a.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if d, ok := byID[key]; ok {
			a.FirstName = d.FirstName
			a.Surname1 = d.Surname1
			a.Surname2 = d.Surname2
			a.Photo = d.Photo
		}
		out = append(out, a)
	}
	return out
}
