package domain

import "strings"

// KeySeparator joins the components of a session key.
const KeySeparator = "_"

// SessionKey is either a CurrentKey or a LegacyKey.
type SessionKey interface {
	String() string
	ParticipantID() string
	sessionKey()
}

// CurrentKey addresses a record by participant, mode and calendar day.
type CurrentKey struct {
	Participant string
	Mode        Mode
	Date        Date
}

func (k CurrentKey) String() string        { return EncodeKey(k.Participant, k.Mode, k.Date) }
func (k CurrentKey) ParticipantID() string { return k.Participant }
func (CurrentKey) sessionKey()             {}

// LegacyKey is a key written before mode and date were part of the identifier.
// Mode and date are unknown.
type LegacyKey struct {
	Participant string
}

func (k LegacyKey) String() string        { return k.Participant }
func (k LegacyKey) ParticipantID() string { return k.Participant }
func (LegacyKey) sessionKey()             {}

// EncodeKey builds "<participantId>_<mode>_<YYYYMMDD>".
func EncodeKey(participantID string, mode Mode, date Date) string {
	return participantID + KeySeparator + string(mode) + KeySeparator + string(date)
}

// DecodeKey splits from the right: date, then mode, then the participant id,
// which may itself contain the separator. Anything that does not yield a
// non-empty participant, a known mode and a valid date is a LegacyKey.
func DecodeKey(raw string) SessionKey {
	i := strings.LastIndex(raw, KeySeparator)
	if i < 0 {
		return LegacyKey{Participant: raw}
	}
	rest, dateToken := raw[:i], raw[i+len(KeySeparator):]
	j := strings.LastIndex(rest, KeySeparator)
	if j < 0 {
		return LegacyKey{Participant: raw}
	}
	participant, modeToken := rest[:j], rest[j+len(KeySeparator):]

	mode := Mode(modeToken)
	date, ok := ParseDate(dateToken)
	if participant == "" || !mode.Valid() || !ok {
		return LegacyKey{Participant: raw}
	}
	return CurrentKey{Participant: participant, Mode: mode, Date: date}
}

// IsLegacyKey reports whether raw decodes to a LegacyKey.
func IsLegacyKey(raw string) bool {
	_, legacy := DecodeKey(raw).(LegacyKey)
	return legacy
}
