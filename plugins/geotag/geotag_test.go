package main

import (
	"testing"

	"github.com/correomqtt/pluginhost/api"
)

func labels(hook api.MessageListHook, topic string) []string {
	entry := &api.MessageListEntry{}
	hook.OnCreateEntry(api.Message{Topic: topic}, entry)
	return entry.Labels
}

func TestRegisterExtensions(t *testing.T) {
	p := NewPlugin()
	defs := p.RegisterExtensions()
	if len(defs) != 2 || defs[0].ID != "city-tag" || defs[1].ID != "country-tag" {
		t.Fatalf("RegisterExtensions() = %+v", defs)
	}
	for _, def := range defs {
		if !def.Capability.Accepts(def.Extension) {
			t.Errorf("%s does not implement %s", def.ID, def.Capability)
		}
		if _, ok := def.Extension.(api.Configurable); !ok {
			t.Errorf("%s is not configurable", def.ID)
		}
	}
	if p.Meta().APIVersion != api.APIVersionCurrent {
		t.Errorf("APIVersion = %d", p.Meta().APIVersion)
	}
}

func TestCityTag(t *testing.T) {
	tag := &CityTag{}
	tag.OnConfigReceived(tag.NewConfig())

	if got := labels(tag, "de/berlin/temp"); len(got) != 1 || got[0] != "berlin" {
		t.Errorf("default labels = %v, want [berlin]", got)
	}
	if got := labels(tag, "flat"); len(got) != 0 {
		t.Errorf("labels for short topic = %v, want none", got)
	}

	tag.OnConfigReceived(&CityTagConfig{Level: 0, Prefix: "city:"})
	if got := labels(tag, "paris/x"); len(got) != 1 || got[0] != "city:paris" {
		t.Errorf("labels = %v, want [city:paris]", got)
	}
}

func TestCountryTag(t *testing.T) {
	tag := &CountryTag{}
	tag.OnConfigReceived(&CountryTagConfig{
		Level:     0,
		Countries: map[string]string{"DE": "Germany", "fr": "France"},
	})

	tests := []struct {
		topic string
		want  []string
	}{
		{"de/berlin", []string{"Germany"}},
		{"FR/paris", []string{"France"}},
		{"xx/nowhere", nil},
	}
	for _, tt := range tests {
		got := labels(tag, tt.topic)
		if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
			t.Errorf("labels(%s) = %v, want %v", tt.topic, got, tt.want)
		}
	}

	tag.OnConfigReceived(&CountryTagConfig{Fallback: "unknown"})
	if got := labels(tag, "xx/nowhere"); len(got) != 1 || got[0] != "unknown" {
		t.Errorf("fallback labels = %v", got)
	}
}
