package config

type WorkerKeyStruct struct {
	PersistEventsQueue   string
	PersistAutosaveQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistEventsQueue:   "persist_events_queue",
	PersistAutosaveQueue: "persist_autosave_queue",
}
