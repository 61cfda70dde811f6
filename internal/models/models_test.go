package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(Session{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "RawNote", "type:text")
	assertGormTag(t, typ, "EnhancedNote", "type:text")
	assertGormTag(t, typ, "PreMeetingNote", "type:text")
	assertGormTag(t, typ, "ActiveView", "default:raw")
	assertGormTag(t, typ, "Words", "foreignKey:SessionID")
	assertGormTag(t, typ, "Participants", "foreignKey:SessionID")
	assertFieldType(t, typ, "Words", "[]models.Word")
}

func TestWord_Fields(t *testing.T) {
	typ := reflect.TypeOf(Word{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "SessionID", "index:idx_word_session_seq")
	assertGormTag(t, typ, "Seq", "index:idx_word_session_seq")
	assertGormTag(t, typ, "Text", "not null")
	assertFieldType(t, typ, "StartMs", "int64")
	assertFieldType(t, typ, "EndMs", "int64")
}

func TestParticipant_Fields(t *testing.T) {
	typ := reflect.TypeOf(Participant{})

	assertGormTag(t, typ, "SessionID", "index")
	assertGormTag(t, typ, "Name", "not null")
}

func TestTemplate_Fields(t *testing.T) {
	typ := reflect.TypeOf(Template{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Title", "not null")
	assertGormTag(t, typ, "Sections", "foreignKey:TemplateID")
	assertFieldType(t, typ, "Sections", "[]models.TemplateSection")

	sec := reflect.TypeOf(TemplateSection{})
	assertGormTag(t, sec, "TemplateID", "index:idx_section_template_pos")
	assertGormTag(t, sec, "Position", "index:idx_section_template_pos")
}

func TestSetting_Fields(t *testing.T) {
	typ := reflect.TypeOf(Setting{})

	assertGormTag(t, typ, "Key", "primaryKey")
	assertGormTag(t, typ, "Value", "type:text")
}

func TestEnhancementRun_Fields(t *testing.T) {
	typ := reflect.TypeOf(EnhancementRun{})

	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "SessionID", "index:idx_run_session_status")
	assertGormTag(t, typ, "Status", "index:idx_run_session_status")
	assertGormTag(t, typ, "Status", "default:running")
	assertFieldType(t, typ, "TemplateID", "*string")
	assertFieldType(t, typ, "FinishedAt", "*time.Time")
}

func TestRecordingState_Fields(t *testing.T) {
	typ := reflect.TypeOf(RecordingState{})

	assertGormTag(t, typ, "Status", "default:inactive")
	if RecordingStateID != 1 {
		t.Errorf("RecordingStateID = %d, want 1", RecordingStateID)
	}
}

func TestAnalyticsEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(AnalyticsEvent{})

	assertGormTag(t, typ, "Name", "index")
	assertGormTag(t, typ, "DistinctID", "not null")
	assertGormTag(t, typ, "Properties", "type:text")
}

func TestRunStatuses_Distinct(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range []string{RunRunning, RunCompleted, RunCancelled, RunFailed, RunTooShort} {
		if seen[s] {
			t.Errorf("duplicate run status %q", s)
		}
		seen[s] = true
	}
}
