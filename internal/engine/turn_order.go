package engine

// nextActive returns the first seat clockwise of i that is still playing.
// It returns i when nobody else is left.
func (s *State) nextActive(i int) int {
	n := len(s.Seats)
	for step := 1; step < n; step++ {
		j := (i + step) % n
		if !s.Seats[j].Out {
			return j
		}
	}
	return i
}

// activeSeats lists the seats still holding cards, in seat order.
func (s *State) activeSeats() []int {
	var out []int
	for i, seat := range s.Seats {
		if !seat.Out {
			out = append(out, i)
		}
	}
	return out
}

// drawOrder is the refill order after a round: the attacker, the other
// attackers clockwise, and the defender last.
func (s *State) drawOrder() []int {
	n := len(s.Seats)
	order := make([]int, 0, n)
	for step := 0; step < n; step++ {
		j := (s.Attacker + step) % n
		if j == s.Defender || s.Seats[j].Out {
			continue
		}
		order = append(order, j)
	}
	if !s.Seats[s.Defender].Out {
		order = append(order, s.Defender)
	}
	return order
}

// RoleOf reports the role seat plays in the current round.
func RoleOf(s State, seat int) Role {
	switch {
	case s.Seats[seat].Out:
		return RoleOut
	case s.Phase == PhaseGameOver:
		return RoleBystander
	case seat == s.Attacker:
		return RoleAttacker
	case seat == s.Defender:
		return RoleDefender
	}
	return RoleBystander
}

// ActingSeat is the seat the game is waiting on, or -1 once the game is over.
func ActingSeat(s State) int {
	switch s.Phase {
	case PhaseAttack:
		return s.Attacker
	case PhaseDefense:
		return s.Defender
	}
	return -1
}
