package trips

// Reorder moves the place movedID into the slot held by targetID and gives it the
// target's day. All other places keep their relative order. The input is returned
// unchanged when the ids are equal or either id is unknown.
func Reorder(places []Place, movedID, targetID PlaceID) []Place {
	if movedID == targetID {
		return places
	}
	from := indexOfPlace(places, movedID)
	to := indexOfPlace(places, targetID)
	if from < 0 || to < 0 {
		return places
	}

	moved := places[from]
	moved.Day = places[to].Day

	reordered := make([]Place, 0, len(places))
	for index, place := range places {
		if index == from {
			continue
		}
		reordered = append(reordered, place)
	}
	// After removal the target's original index is where array-move semantics put the element:
	// after the target when moving forward, before it when moving backward.
	reordered = append(reordered[:to], append([]Place{moved}, reordered[to:]...)...)
	return reordered
}

func indexOfPlace(places []Place, id PlaceID) int {
	for index, place := range places {
		if place.ID == id {
			return index
		}
	}
	return -1
}
